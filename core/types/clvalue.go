package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	caperrors "capstore/core/errors"
)

// CLValue carries a value across the host boundary in its encoded form:
// contract arguments, return values and values passed between contracts.
// Type records the tag of the wrapped value so callers can inspect it without
// decoding.
type CLValue struct {
	Type  Tag    `json:"type"`
	Bytes []byte `json:"bytes"`
}

// CLValueFrom encodes v into a CLValue.
func CLValueFrom(v Value) (CLValue, error) {
	if _, ok := v.(CLValue); ok {
		return CLValue{}, fmt.Errorf("%w: nested CLValue", caperrors.ErrValueConversion)
	}
	enc, err := EncodeValue(v)
	if err != nil {
		return CLValue{}, err
	}
	return CLValue{Type: v.Tag(), Bytes: enc}, nil
}

// MustCLValue is CLValueFrom for values known to encode.
func MustCLValue(v Value) CLValue {
	cl, err := CLValueFrom(v)
	if err != nil {
		panic(err)
	}
	return cl
}

// CLValueFromURef wraps a capability so it can be returned to a caller.
func CLValueFromURef(u URef) CLValue {
	return MustCLValue(URefKey(u))
}

// Value decodes the wrapped value and checks it against Type.
func (c CLValue) Value() (Value, error) {
	v, err := DecodeValue(c.Bytes)
	if err != nil {
		return nil, err
	}
	if v.Tag() != c.Type {
		return nil, fmt.Errorf("%w: clvalue typed %s holds %s", caperrors.ErrMalformedEncoding, c.Type, v.Tag())
	}
	return v, nil
}

// URef extracts a capability wrapped by CLValueFromURef.
func (c CLValue) URef() (URef, error) {
	v, err := c.Value()
	if err != nil {
		return URef{}, err
	}
	key, err := As[Key](v)
	if err != nil {
		return URef{}, err
	}
	u, ok := key.AsURef()
	if !ok {
		return URef{}, fmt.Errorf("clvalue %s: %w", key, caperrors.ErrUnexpectedKeyVariant)
	}
	return u, nil
}

// CLInto decodes c and narrows it to T.
func CLInto[T Value](c CLValue) (T, error) {
	v, err := c.Value()
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](v)
}

// ExtractURefs returns every capability embedded in v: URef keys, named keys,
// account purses and the contents of wrapped CLValues.
func ExtractURefs(v Value) []URef {
	var out []URef
	addKey := func(k Key) {
		if u, ok := k.AsURef(); ok {
			out = append(out, u)
		}
	}
	switch val := v.(type) {
	case Key:
		addKey(val)
	case NamedKey:
		addKey(val.Key)
	case *Account:
		for _, name := range val.NamedKeys.Names() {
			addKey(val.NamedKeys[name])
		}
		out = append(out, val.MainPurse)
	case *Contract:
		for _, name := range val.NamedKeys.Names() {
			addKey(val.NamedKeys[name])
		}
	case CLValue:
		if inner, err := val.Value(); err == nil {
			out = append(out, ExtractURefs(inner)...)
		}
	}
	return out
}

// EncodeCLValues encodes an argument list as an RLP list of value encodings.
func EncodeCLValues(vals []CLValue) ([]byte, error) {
	raw := make([][]byte, len(vals))
	for i, v := range vals {
		enc, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		raw[i] = enc
	}
	return rlp.EncodeToBytes(raw)
}

// DecodeCLValues reverses EncodeCLValues. Every element must be a CLValue.
func DecodeCLValues(data []byte) ([]CLValue, error) {
	var raw [][]byte
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return nil, fmt.Errorf("decode args: %w", wrapMalformed(err))
	}
	out := make([]CLValue, len(raw))
	for i, enc := range raw {
		v, err := DecodeValue(enc)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		cl, err := As[CLValue](v)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = cl
	}
	return out, nil
}
