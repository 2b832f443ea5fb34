package types

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	caperrors "capstore/core/errors"
)

// AddressLength is the size of every global address.
const AddressLength = 32

// Address identifies a slot in the global keyed namespace.
type Address [AddressLength]byte

func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// ParseAddress decodes a hex encoded address, with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	var out Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("parse address: %w", err)
	}
	if len(raw) != AddressLength {
		return out, fmt.Errorf("parse address: invalid length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// URef is an unforgeable reference: an address bundled with the rights its
// holder has over the slot. It is an immutable value; narrowing produces a
// new URef.
type URef struct {
	addr   Address
	rights AccessRights
}

// NewURef builds a capability. Only the host mints fresh addresses; guest
// code obtains URefs from the host or from values it is allowed to read.
func NewURef(addr Address, rights AccessRights) URef {
	return URef{addr: addr, rights: rights}
}

func (u URef) Addr() Address        { return u.addr }
func (u URef) Rights() AccessRights { return u.rights }

// Narrow returns a copy of u holding only rights. Asking for any right u does
// not hold fails with ErrRightsWidened.
func (u URef) Narrow(rights AccessRights) (URef, error) {
	if !rights.Valid() || !u.rights.Contains(rights) {
		return URef{}, fmt.Errorf("narrow %s to %s: %w", u, rights, caperrors.ErrRightsWidened)
	}
	return URef{addr: u.addr, rights: rights}, nil
}

// Normalize strips the access rights, leaving the slot identity.
func (u URef) Normalize() URef { return URef{addr: u.addr} }

func (u URef) String() string {
	return fmt.Sprintf("uref-%s-%s", u.addr.Hex(), u.rights)
}

type urefRLP struct {
	Addr   Address
	Rights uint8
}

// EncodeRLP implements rlp.Encoder.
func (u URef) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, urefRLP{Addr: u.addr, Rights: uint8(u.rights)})
}

// DecodeRLP implements rlp.Decoder.
func (u *URef) DecodeRLP(s *rlp.Stream) error {
	var dec urefRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	rights := AccessRights(dec.Rights)
	if !rights.Valid() {
		return fmt.Errorf("%w: access rights %#x", caperrors.ErrMalformedEncoding, dec.Rights)
	}
	*u = URef{addr: dec.Addr, rights: rights}
	return nil
}
