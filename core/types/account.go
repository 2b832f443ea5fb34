package types

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	caperrors "capstore/core/errors"
)

// NamedKeys maps names to the keys an account or contract holds. It encodes as
// a list sorted by name so the encoding stays canonical.
type NamedKeys map[string]Key

// Clone returns an independent copy.
func (n NamedKeys) Clone() NamedKeys {
	out := make(NamedKeys, len(n))
	for name, key := range n {
		out[name] = key
	}
	return out
}

// Names returns the names in ascending order.
func (n NamedKeys) Names() []string {
	names := make([]string, 0, len(n))
	for name := range n {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodeRLP implements rlp.Encoder.
func (n NamedKeys) EncodeRLP(w io.Writer) error {
	entries := make([]NamedKey, 0, len(n))
	for _, name := range n.Names() {
		entries = append(entries, NamedKey{Name: name, Key: n[name]})
	}
	return rlp.Encode(w, entries)
}

// DecodeRLP implements rlp.Decoder. Names must be strictly ascending.
func (n *NamedKeys) DecodeRLP(s *rlp.Stream) error {
	var entries []NamedKey
	if err := s.Decode(&entries); err != nil {
		return err
	}
	out := make(NamedKeys, len(entries))
	for i, entry := range entries {
		if i > 0 && entries[i-1].Name >= entry.Name {
			return fmt.Errorf("%w: named keys not strictly sorted at %q", caperrors.ErrMalformedEncoding, entry.Name)
		}
		out[entry.Name] = entry.Key
	}
	*n = out
	return nil
}

// Weight is the signing weight of an associated key.
type Weight uint8

// AssociatedKey is a public key allowed to act for an account.
type AssociatedKey struct {
	PublicKey Address `json:"publicKey"`
	Weight    Weight  `json:"weight"`
}

// ActionThresholds are the weights needed to deploy and to manage keys.
type ActionThresholds struct {
	Deployment    Weight `json:"deployment"`
	KeyManagement Weight `json:"keyManagement"`
}

// Account is the record stored under Key::Account. Its named keys are the
// capabilities the account starts every execution with.
type Account struct {
	PublicKey        Address          `json:"publicKey"`
	NamedKeys        NamedKeys        `json:"namedKeys"`
	MainPurse        URef             `json:"mainPurse"`
	AssociatedKeys   []AssociatedKey  `json:"associatedKeys"`
	ActionThresholds ActionThresholds `json:"actionThresholds"`
}

// NewAccount creates an account whose only associated key is its own public
// key with weight one.
func NewAccount(pub Address, namedKeys NamedKeys, mainPurse URef) *Account {
	if namedKeys == nil {
		namedKeys = NamedKeys{}
	}
	return &Account{
		PublicKey:        pub,
		NamedKeys:        namedKeys,
		MainPurse:        mainPurse,
		AssociatedKeys:   []AssociatedKey{{PublicKey: pub, Weight: 1}},
		ActionThresholds: ActionThresholds{Deployment: 1, KeyManagement: 1},
	}
}

// Copy returns a deep copy.
func (a *Account) Copy() *Account {
	out := *a
	out.NamedKeys = a.NamedKeys.Clone()
	out.AssociatedKeys = append([]AssociatedKey(nil), a.AssociatedKeys...)
	return &out
}

type accountRLP struct {
	PublicKey        Address
	NamedKeys        NamedKeys
	MainPurse        URef
	AssociatedKeys   []AssociatedKey
	ActionThresholds ActionThresholds
}

// EncodeRLP implements rlp.Encoder. Associated keys are sorted by public key
// and must be unique, so every encoding decodes.
func (a *Account) EncodeRLP(w io.Writer) error {
	assoc := append([]AssociatedKey(nil), a.AssociatedKeys...)
	sort.Slice(assoc, func(i, j int) bool {
		return bytes.Compare(assoc[i].PublicKey[:], assoc[j].PublicKey[:]) < 0
	})
	for i := 1; i < len(assoc); i++ {
		if assoc[i-1].PublicKey == assoc[i].PublicKey {
			return fmt.Errorf("%w: duplicate associated key %x", caperrors.ErrMalformedEncoding, assoc[i].PublicKey[:])
		}
	}
	return rlp.Encode(w, accountRLP{
		PublicKey:        a.PublicKey,
		NamedKeys:        a.NamedKeys,
		MainPurse:        a.MainPurse,
		AssociatedKeys:   assoc,
		ActionThresholds: a.ActionThresholds,
	})
}

// DecodeRLP implements rlp.Decoder.
func (a *Account) DecodeRLP(s *rlp.Stream) error {
	var dec accountRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	for i := 1; i < len(dec.AssociatedKeys); i++ {
		if bytes.Compare(dec.AssociatedKeys[i-1].PublicKey[:], dec.AssociatedKeys[i].PublicKey[:]) >= 0 {
			return fmt.Errorf("%w: associated keys not strictly sorted", caperrors.ErrMalformedEncoding)
		}
	}
	if dec.NamedKeys == nil {
		dec.NamedKeys = NamedKeys{}
	}
	*a = Account{
		PublicKey:        dec.PublicKey,
		NamedKeys:        dec.NamedKeys,
		MainPurse:        dec.MainPurse,
		AssociatedKeys:   dec.AssociatedKeys,
		ActionThresholds: dec.ActionThresholds,
	}
	return nil
}
