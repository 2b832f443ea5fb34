package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	caperrors "capstore/core/errors"
)

// envelope is the outer form of every encoded value: the variant tag followed
// by the variant's own encoding.
type envelope struct {
	Tag     uint8
	Payload rlp.RawValue
}

type clValueRLP struct {
	Type  uint8
	Bytes []byte
}

// EncodeValue produces the canonical encoding of v.
func EncodeValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("encode value: nil")
	}
	payload, err := encodePayload(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", v.Tag(), err)
	}
	return rlp.EncodeToBytes(envelope{Tag: uint8(v.Tag()), Payload: payload})
}

// MustEncodeValue panics if v cannot be encoded. Only values built by this
// package's constructors are safe to pass.
func MustEncodeValue(v Value) []byte {
	enc, err := EncodeValue(v)
	if err != nil {
		panic(err)
	}
	return enc
}

func encodePayload(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Int32:
		return rlp.EncodeToBytes(uint32(val))
	case UInt64:
		return rlp.EncodeToBytes(uint64(val))
	case UInt128:
		return rlp.EncodeToBytes(val.v.Bytes())
	case UInt256:
		return rlp.EncodeToBytes(val.v.Bytes())
	case UInt512:
		return rlp.EncodeToBytes(val.Big().Bytes())
	case ByteArray:
		return rlp.EncodeToBytes([]byte(val))
	case String:
		return rlp.EncodeToBytes(string(val))
	case ListInt32:
		raw := make([]uint32, len(val))
		for i, x := range val {
			raw[i] = uint32(x)
		}
		return rlp.EncodeToBytes(raw)
	case ListString:
		return rlp.EncodeToBytes([]string(val))
	case NamedKey:
		return rlp.EncodeToBytes(val)
	case Key:
		return rlp.EncodeToBytes(val)
	case Unit:
		return rlp.EncodeToBytes([]uint{})
	case *Account:
		if val == nil {
			return nil, fmt.Errorf("nil account")
		}
		return rlp.EncodeToBytes(val)
	case *Contract:
		if val == nil {
			return nil, fmt.Errorf("nil contract")
		}
		return rlp.EncodeToBytes(val)
	case CLValue:
		return rlp.EncodeToBytes(clValueRLP{Type: uint8(val.Type), Bytes: val.Bytes})
	default:
		return nil, fmt.Errorf("unknown value %T", v)
	}
}

// DecodeValue parses a canonical value encoding. Anything that is not the
// exact encoding of some value fails with ErrMalformedEncoding.
func DecodeValue(data []byte) (Value, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("decode value: %w", wrapMalformed(err))
	}
	v, err := decodePayload(Tag(env.Tag), env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", Tag(env.Tag), wrapMalformed(err))
	}
	return v, nil
}

func decodePayload(tag Tag, payload []byte) (Value, error) {
	switch tag {
	case TagInt32:
		var x uint32
		err := rlp.DecodeBytes(payload, &x)
		return Int32(int32(x)), err
	case TagUInt64:
		var x uint64
		err := rlp.DecodeBytes(payload, &x)
		return UInt64(x), err
	case TagUInt128:
		raw, err := decodeUnsigned(payload, 16)
		if err != nil {
			return nil, err
		}
		return UInt128{v: *new(uint256.Int).SetBytes(raw)}, nil
	case TagUInt256:
		raw, err := decodeUnsigned(payload, 32)
		if err != nil {
			return nil, err
		}
		return UInt256{v: *new(uint256.Int).SetBytes(raw)}, nil
	case TagUInt512:
		raw, err := decodeUnsigned(payload, uint512Bytes)
		if err != nil {
			return nil, err
		}
		return NewUInt512(new(big.Int).SetBytes(raw))
	case TagByteArray:
		var x []byte
		if err := rlp.DecodeBytes(payload, &x); err != nil {
			return nil, err
		}
		if x == nil {
			x = []byte{}
		}
		return ByteArray(x), nil
	case TagString:
		var x string
		err := rlp.DecodeBytes(payload, &x)
		return String(x), err
	case TagListInt32:
		var raw []uint32
		if err := rlp.DecodeBytes(payload, &raw); err != nil {
			return nil, err
		}
		out := make(ListInt32, len(raw))
		for i, x := range raw {
			out[i] = int32(x)
		}
		return out, nil
	case TagListString:
		var x []string
		if err := rlp.DecodeBytes(payload, &x); err != nil {
			return nil, err
		}
		if x == nil {
			x = []string{}
		}
		return ListString(x), nil
	case TagNamedKey:
		var x NamedKey
		err := rlp.DecodeBytes(payload, &x)
		return x, err
	case TagKey:
		var x Key
		err := rlp.DecodeBytes(payload, &x)
		return x, err
	case TagUnit:
		var x []uint
		if err := rlp.DecodeBytes(payload, &x); err != nil {
			return nil, err
		}
		if len(x) != 0 {
			return nil, fmt.Errorf("unit with %d elements", len(x))
		}
		return Unit{}, nil
	case TagAccount:
		x := new(Account)
		if err := rlp.DecodeBytes(payload, x); err != nil {
			return nil, err
		}
		return x, nil
	case TagContract:
		x := new(Contract)
		if err := rlp.DecodeBytes(payload, x); err != nil {
			return nil, err
		}
		if x.NamedKeys == nil {
			x.NamedKeys = NamedKeys{}
		}
		if x.Module == nil {
			x.Module = []byte{}
		}
		return x, nil
	case TagCLValue:
		var x clValueRLP
		if err := rlp.DecodeBytes(payload, &x); err != nil {
			return nil, err
		}
		cl := CLValue{Type: Tag(x.Type), Bytes: x.Bytes}
		if _, err := cl.Value(); err != nil {
			return nil, err
		}
		return cl, nil
	default:
		return nil, fmt.Errorf("unknown tag %d", uint8(tag))
	}
}

// decodeUnsigned reads a minimal big-endian integer of at most width bytes.
func decodeUnsigned(payload []byte, width int) ([]byte, error) {
	var raw []byte
	if err := rlp.DecodeBytes(payload, &raw); err != nil {
		return nil, err
	}
	if len(raw) > width {
		return nil, fmt.Errorf("integer of %d bytes exceeds %d", len(raw), width)
	}
	if len(raw) > 0 && raw[0] == 0 {
		return nil, fmt.Errorf("integer has leading zero bytes")
	}
	return raw, nil
}

func wrapMalformed(err error) error {
	if errors.Is(err, caperrors.ErrMalformedEncoding) || errors.Is(err, caperrors.ErrValueConversion) {
		return err
	}
	return fmt.Errorf("%w: %v", caperrors.ErrMalformedEncoding, err)
}
