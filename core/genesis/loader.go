package genesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"capstore/core/effects"
	caperrors "capstore/core/errors"
	"capstore/core/host"
	"capstore/core/types"
)

// Named keys the system account holds for the system contracts.
const (
	MintName = "mint"
	PoSName  = "pos"
)

// Config is everything the installer writes. System constants are passed in
// rather than looked up.
type Config struct {
	SystemAccount   types.Address
	ProtocolVersion uint64
	MintModule      []byte
	PoSModule       []byte
	Accounts        []GenesisAccount
}

// ConfigFromSpec builds an installer config from a validated spec.
func ConfigFromSpec(spec *GenesisSpec, mintModule, posModule []byte) Config {
	return Config{
		SystemAccount:   spec.SystemAccountAddr(),
		ProtocolVersion: spec.ProtocolVersion,
		MintModule:      mintModule,
		PoSModule:       posModule,
		Accounts:        spec.GenesisAccounts(),
	}
}

// Installed is the first effect map together with the system references it
// created.
type Installed struct {
	Effects effects.Effects
	Mint    types.URef
	PoS     types.URef
	Purses  map[types.Address]types.URef
}

// PurseBalanceKey is where the mint indexes the balance slot of purse: a
// local entry of the mint keyed by the purse address.
func PurseBalanceKey(mint types.Address, purse types.Address) types.Key {
	return types.LocalKey(mint, PurseBalanceIndex(purse))
}

// PurseBalanceIndex is the local-partition key bytes for purse.
func PurseBalanceIndex(purse types.Address) []byte {
	return types.MustEncodeValue(types.ByteArray(purse[:]))
}

// FormatBondName renders the PoS named key recording a bond.
func FormatBondName(pub types.Address, amount types.UInt512) string {
	return fmt.Sprintf("v_%s_%s", pub.Hex(), amount)
}

// ParseBondName reverses FormatBondName. ok is false for any other name.
func ParseBondName(name string) (types.Address, types.UInt512, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 3 || parts[0] != "v" {
		return types.Address{}, types.UInt512{}, false
	}
	pub, err := types.ParseAddress(parts[1])
	if err != nil {
		return types.Address{}, types.UInt512{}, false
	}
	amount, err := parseAmountString(parts[2])
	if err != nil || strings.TrimSpace(parts[2]) == "" {
		return types.Address{}, types.UInt512{}, false
	}
	return pub, amount, true
}

type seedAccount struct {
	PublicKey types.Address
	Balance   []byte
	Bonded    []byte
}

type seedInput struct {
	SystemAccount   types.Address
	ProtocolVersion uint64
	Accounts        []seedAccount
}

// seed derives the address generator seed from the config so that the same
// config always installs the same addresses.
func seed(cfg Config) ([32]byte, error) {
	in := seedInput{SystemAccount: cfg.SystemAccount, ProtocolVersion: cfg.ProtocolVersion}
	for _, a := range cfg.Accounts {
		in.Accounts = append(in.Accounts, seedAccount{
			PublicKey: a.PublicKey,
			Balance:   a.Balance.Big().Bytes(),
			Bonded:    a.BondedAmount.Big().Bytes(),
		})
	}
	raw, err := rlp.EncodeToBytes(in)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(raw), nil
}

// Install produces the first effect map: the system account with the mint and
// PoS contracts, then one funded account per entry in cfg.Accounts, in
// public key order.
func Install(cfg Config) (*Installed, error) {
	if len(cfg.MintModule) == 0 || len(cfg.PoSModule) == 0 {
		return nil, fmt.Errorf("%w: system modules must be provided", caperrors.ErrGenesisInvalid)
	}
	s, err := seed(cfg)
	if err != nil {
		return nil, fmt.Errorf("genesis seed: %w", err)
	}
	addrs := host.NewAddressGenerator(s, host.PhaseSystem)
	acc := effects.NewAccumulator()

	accounts := append([]GenesisAccount(nil), cfg.Accounts...)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].PublicKey.Hex() < accounts[j].PublicKey.Hex()
	})
	seen := map[types.Address]struct{}{cfg.SystemAccount: {}}
	for _, a := range accounts {
		if _, dup := seen[a.PublicKey]; dup {
			return nil, fmt.Errorf("%w %s", caperrors.ErrDuplicateAccount, a.PublicKey.Hex())
		}
		seen[a.PublicKey] = struct{}{}
	}

	mint := types.NewURef(addrs.Next(), types.AccessReadAddWrite)
	pos := types.NewURef(addrs.Next(), types.AccessReadAddWrite)
	out := &Installed{Mint: mint, PoS: pos, Purses: make(map[types.Address]types.URef)}

	bonds := types.NamedKeys{}
	for _, a := range accounts {
		if !a.BondedAmount.IsZero() {
			bonds[FormatBondName(a.PublicKey, a.BondedAmount)] = types.AccountKey(a.PublicKey)
		}
	}
	writes := []struct {
		key   types.Key
		value types.Value
	}{
		{types.URefKey(mint), types.NewContract(cfg.MintModule, MintName, nil, cfg.ProtocolVersion)},
		{types.URefKey(pos), types.NewContract(cfg.PoSModule, PoSName, bonds, cfg.ProtocolVersion)},
	}
	for _, w := range writes {
		if err := acc.Write(w.key, w.value); err != nil {
			return nil, err
		}
	}

	system := GenesisAccount{PublicKey: cfg.SystemAccount}
	systemNamed := types.NamedKeys{MintName: types.URefKey(mint), PoSName: types.URefKey(pos)}
	if err := installAccount(acc, addrs, mint, system, systemNamed, out); err != nil {
		return nil, fmt.Errorf("system account: %w", err)
	}
	for _, a := range accounts {
		if err := installAccount(acc, addrs, mint, a, nil, out); err != nil {
			return nil, fmt.Errorf("account %s: %w", a.PublicKey.Hex(), err)
		}
	}

	fx, err := acc.Seal()
	if err != nil {
		return nil, err
	}
	out.Effects = fx
	return out, nil
}

func installAccount(acc *effects.Accumulator, addrs *host.AddressGenerator, mint types.URef, a GenesisAccount, named types.NamedKeys, out *Installed) error {
	purse := types.NewURef(addrs.Next(), types.AccessReadAddWrite)
	balance := types.NewURef(addrs.Next(), types.AccessReadAddWrite)
	if err := acc.Write(types.URefKey(purse), types.Unit{}); err != nil {
		return err
	}
	if err := acc.Write(types.URefKey(balance), a.Balance); err != nil {
		return err
	}
	if err := acc.Write(PurseBalanceKey(mint.Addr(), purse.Addr()), types.URefKey(balance)); err != nil {
		return err
	}
	if err := acc.Write(types.AccountKey(a.PublicKey), types.NewAccount(a.PublicKey, named, purse)); err != nil {
		return err
	}
	out.Purses[a.PublicKey] = purse
	return nil
}
