package types

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	caperrors "capstore/core/errors"
)

// KeyKind tags the variant of a Key. The numeric values are part of the
// canonical encoding.
type KeyKind uint8

const (
	KeyAccount KeyKind = iota
	KeyHash
	KeyURef
	KeyLocal
)

func (k KeyKind) String() string {
	switch k {
	case KeyAccount:
		return "account"
	case KeyHash:
		return "hash"
	case KeyURef:
		return "uref"
	case KeyLocal:
		return "local"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Key addresses a slot in global state. It is a closed variant:
// Account(address), Hash(address), URef(uref) or Local(seed, hash). Keys are
// comparable and usable as map keys; Compare gives the total order used for
// deterministic iteration.
type Key struct {
	kind   KeyKind
	addr   Address
	rights AccessRights
	local  [32]byte
}

func AccountKey(addr Address) Key { return Key{kind: KeyAccount, addr: addr} }
func HashKey(addr Address) Key    { return Key{kind: KeyHash, addr: addr} }
func URefKey(u URef) Key          { return Key{kind: KeyURef, addr: u.addr, rights: u.rights} }

// LocalKey addresses an entry in the local partition owned by seed. The key
// bytes are hashed so arbitrary key types map to a fixed-size slot.
func LocalKey(seed Address, keyBytes []byte) Key {
	return Key{kind: KeyLocal, addr: seed, local: blake3.Sum256(keyBytes)}
}

func (k Key) Kind() KeyKind { return k.kind }

// Addr returns the account address, contract hash, URef address or local seed.
func (k Key) Addr() Address { return k.addr }

// LocalHash returns the hashed key bytes of a Local key.
func (k Key) LocalHash() [32]byte { return k.local }

// AsURef returns the URef a URef key was built from.
func (k Key) AsURef() (URef, bool) {
	if k.kind != KeyURef {
		return URef{}, false
	}
	return URef{addr: k.addr, rights: k.rights}, true
}

// Normalize drops access rights from URef keys. Effect maps and the trie are
// addressed by normalized keys.
func (k Key) Normalize() Key {
	if k.kind == KeyURef {
		k.rights = AccessNone
	}
	return k
}

// Compare orders keys by variant, then address, then rights or local hash.
func (k Key) Compare(other Key) int {
	if k.kind != other.kind {
		if k.kind < other.kind {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(k.addr[:], other.addr[:]); c != 0 {
		return c
	}
	switch k.kind {
	case KeyURef:
		switch {
		case k.rights < other.rights:
			return -1
		case k.rights > other.rights:
			return 1
		}
	case KeyLocal:
		return bytes.Compare(k.local[:], other.local[:])
	}
	return 0
}

// Bytes returns the canonical encoding of the key.
func (k Key) Bytes() []byte {
	enc, err := rlp.EncodeToBytes(k)
	if err != nil {
		// Key encoding only writes fixed-size fields.
		panic(fmt.Sprintf("encode key: %v", err))
	}
	return enc
}

func (k Key) String() string {
	switch k.kind {
	case KeyURef:
		return URef{addr: k.addr, rights: k.rights}.String()
	case KeyLocal:
		return fmt.Sprintf("local-%s-%x", k.addr.Hex(), k.local)
	default:
		return fmt.Sprintf("%s-%s", k.kind, k.addr.Hex())
	}
}

// EncodeRLP implements rlp.Encoder.
func (k Key) EncodeRLP(w io.Writer) error {
	switch k.kind {
	case KeyAccount, KeyHash:
		return rlp.Encode(w, []interface{}{uint8(k.kind), k.addr})
	case KeyURef:
		return rlp.Encode(w, []interface{}{uint8(k.kind), k.addr, uint8(k.rights)})
	case KeyLocal:
		return rlp.Encode(w, []interface{}{uint8(k.kind), k.addr, k.local})
	default:
		return fmt.Errorf("encode key: unknown variant %d", k.kind)
	}
}

// DecodeRLP implements rlp.Decoder. Trailing or missing fields are rejected
// so every key has exactly one encoding.
func (k *Key) DecodeRLP(s *rlp.Stream) error {
	if _, err := s.List(); err != nil {
		return err
	}
	tag, err := s.Uint8()
	if err != nil {
		return err
	}
	var out Key
	out.kind = KeyKind(tag)
	if err := s.ReadBytes(out.addr[:]); err != nil {
		return err
	}
	switch out.kind {
	case KeyAccount, KeyHash:
	case KeyURef:
		rights, err := s.Uint8()
		if err != nil {
			return err
		}
		out.rights = AccessRights(rights)
		if !out.rights.Valid() {
			return fmt.Errorf("%w: access rights %#x", caperrors.ErrMalformedEncoding, rights)
		}
	case KeyLocal:
		if err := s.ReadBytes(out.local[:]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: key variant %d", caperrors.ErrMalformedEncoding, tag)
	}
	if err := s.ListEnd(); err != nil {
		return fmt.Errorf("%w: %v", caperrors.ErrMalformedEncoding, err)
	}
	*k = out
	return nil
}

// DecodeKey parses a canonical key encoding.
func DecodeKey(data []byte) (Key, error) {
	var k Key
	if err := rlp.DecodeBytes(data, &k); err != nil {
		return Key{}, fmt.Errorf("decode key: %w", wrapMalformed(err))
	}
	return k, nil
}
