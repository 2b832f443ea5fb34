package engine

import (
	"fmt"

	caperrors "capstore/core/errors"
	"capstore/core/genesis"
	"capstore/core/types"
	"capstore/sdk/contract"
)

// Code images of the system contracts installed at genesis.
var (
	MintCode = []byte("capstore/system/mint/v1")
	PoSCode  = []byte("capstore/system/pos/v1")
)

// Revert codes raised by the system contracts.
const (
	MintErrUnknownMethod uint16 = iota + 1
	MintErrPurseNotFound
	MintErrInsufficientFunds
	PoSErrUnknownMethod
	PoSErrZeroBond
)

// SystemModules returns the mint and PoS modules.
func SystemModules() []*Module {
	return []*Module{
		{Name: "mint", Code: MintCode, EntryPoints: map[string]EntryPoint{genesis.MintName: mintEntry}},
		{Name: "pos", Code: PoSCode, EntryPoints: map[string]EntryPoint{genesis.PoSName: posEntry}},
	}
}

// The mint dispatches on its first argument:
//
//	"create"                          -> Key(purse)
//	"balance", Key(purse)             -> UInt512
//	"transfer", Key(src), Key(dst), UInt512
//
// Balances live in URefs indexed from the mint's local partition by purse
// address, so holding a purse never grants direct access to its balance.
func mintEntry(h contract.Host) error {
	method, err := contract.GetArg[types.String](h, 0)
	if err != nil {
		return err
	}
	switch method {
	case "create":
		return mintCreate(h)
	case "balance":
		purse, err := purseArg(h, 1)
		if err != nil {
			return err
		}
		balance, err := purseBalance(h, purse)
		if err != nil {
			return err
		}
		return contract.Ret(h, balance)
	case "transfer":
		return mintTransfer(h)
	default:
		return contract.Revert(h, MintErrUnknownMethod)
	}
}

func mintCreate(h contract.Host) error {
	purse, err := contract.NewTURef(h, types.Unit{})
	if err != nil {
		return err
	}
	balance, err := contract.NewTURef(h, types.UInt512{})
	if err != nil {
		return err
	}
	addr := purse.Addr()
	if err := contract.WriteLocal(h, types.ByteArray(addr[:]), balance.Key()); err != nil {
		return err
	}
	return contract.Ret(h, purse.Key())
}

func purseArg(h contract.Host, i uint32) (types.URef, error) {
	key, err := contract.GetArg[types.Key](h, i)
	if err != nil {
		return types.URef{}, err
	}
	u, ok := key.AsURef()
	if !ok {
		return types.URef{}, fmt.Errorf("purse %s: %w", key, caperrors.ErrUnexpectedKeyVariant)
	}
	return u, nil
}

func balanceRef(h contract.Host, purse types.URef) (types.TURef[types.UInt512], error) {
	addr := purse.Addr()
	key, ok, err := contract.ReadLocal[types.Key](h, types.ByteArray(addr[:]))
	if err != nil {
		return types.TURef[types.UInt512]{}, err
	}
	if !ok {
		return types.TURef[types.UInt512]{}, contract.Revert(h, MintErrPurseNotFound)
	}
	return types.TURefFromKey[types.UInt512](key)
}

func purseBalance(h contract.Host, purse types.URef) (types.UInt512, error) {
	ref, err := balanceRef(h, purse)
	if err != nil {
		return types.UInt512{}, err
	}
	balance, ok, err := contract.Read(h, ref)
	if err != nil {
		return types.UInt512{}, err
	}
	if !ok {
		return types.UInt512{}, contract.Revert(h, MintErrPurseNotFound)
	}
	return balance, nil
}

func mintTransfer(h contract.Host) error {
	src, err := purseArg(h, 1)
	if err != nil {
		return err
	}
	dst, err := purseArg(h, 2)
	if err != nil {
		return err
	}
	amount, err := contract.GetArg[types.UInt512](h, 3)
	if err != nil {
		return err
	}
	// Moving funds out needs write access to the source purse.
	if !src.Rights().IsWriteable() {
		return fmt.Errorf("transfer from %s: %w", src, caperrors.ErrInvalidAccess)
	}
	srcRef, err := balanceRef(h, src)
	if err != nil {
		return err
	}
	dstRef, err := balanceRef(h, dst)
	if err != nil {
		return err
	}
	srcBalance, err := purseBalance(h, src)
	if err != nil {
		return err
	}
	if srcBalance.Cmp(amount) < 0 {
		return contract.Revert(h, MintErrInsufficientFunds)
	}
	remaining, err := types.NewUInt512(srcBalance.Big().Sub(srcBalance.Big(), amount.Big()))
	if err != nil {
		return err
	}
	if err := contract.Write(h, srcRef, remaining); err != nil {
		return err
	}
	return contract.Add(h, dstRef, amount)
}

// PoS records bonds as named keys of its own contract:
//
//	"bond", ByteArray(validator), UInt512(amount)
func posEntry(h contract.Host) error {
	method, err := contract.GetArg[types.String](h, 0)
	if err != nil {
		return err
	}
	if method != "bond" {
		return contract.Revert(h, PoSErrUnknownMethod)
	}
	raw, err := contract.GetArg[types.ByteArray](h, 1)
	if err != nil {
		return err
	}
	var validator types.Address
	if len(raw) != len(validator) {
		return fmt.Errorf("bond validator: length %d: %w", len(raw), caperrors.ErrInvalidArgument)
	}
	copy(validator[:], raw)
	amount, err := contract.GetArg[types.UInt512](h, 2)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return contract.Revert(h, PoSErrZeroBond)
	}
	return contract.PutKey(h, genesis.FormatBondName(validator, amount), types.AccountKey(validator))
}
