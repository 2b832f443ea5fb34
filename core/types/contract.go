package types

import (
	"fmt"

	"lukechampine.com/blake3"

	caperrors "capstore/core/errors"
)

// Contract is the record for stored executable code: the module it was built
// from, the exported entry point to run, and the capabilities it was stored
// with.
type Contract struct {
	Module          []byte    `json:"module"`
	EntryPoint      string    `json:"entryPoint"`
	NamedKeys       NamedKeys `json:"namedKeys"`
	ProtocolVersion uint64    `json:"protocolVersion"`
}

// NewContract builds a contract record, copying namedKeys.
func NewContract(module []byte, entryPoint string, namedKeys NamedKeys, protocolVersion uint64) *Contract {
	return &Contract{
		Module:          append([]byte(nil), module...),
		EntryPoint:      entryPoint,
		NamedKeys:       namedKeys.Clone(),
		ProtocolVersion: protocolVersion,
	}
}

// CodeHash is the blake3 digest of the module bytes.
func (c *Contract) CodeHash() Address {
	return blake3.Sum256(c.Module)
}

// Copy returns a deep copy.
func (c *Contract) Copy() *Contract {
	return NewContract(c.Module, c.EntryPoint, c.NamedKeys, c.ProtocolVersion)
}

// ContractRef names a stored contract either by an immutable hash or by a
// mutable URef slot.
type ContractRef struct {
	key Key
}

func ContractRefHash(addr Address) ContractRef { return ContractRef{key: HashKey(addr)} }
func ContractRefURef(u URef) ContractRef       { return ContractRef{key: URefKey(u)} }

// ContractRefFromKey accepts Hash and URef keys only.
func ContractRefFromKey(k Key) (ContractRef, error) {
	switch k.Kind() {
	case KeyHash, KeyURef:
		return ContractRef{key: k}, nil
	default:
		return ContractRef{}, fmt.Errorf("contract ref from %s: %w", k, caperrors.ErrUnexpectedKeyVariant)
	}
}

func (r ContractRef) Key() Key { return r.key }

// URef returns the slot capability for URef references.
func (r ContractRef) URef() (URef, bool) { return r.key.AsURef() }

func (r ContractRef) String() string { return r.key.String() }
