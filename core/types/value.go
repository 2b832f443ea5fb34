package types

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	caperrors "capstore/core/errors"
)

// Tag identifies a Value variant. Tags are part of the canonical encoding and
// must never be renumbered.
type Tag uint8

const (
	TagInt32 Tag = iota
	TagByteArray
	TagListInt32
	TagString
	TagAccount
	TagContract
	TagListString
	TagNamedKey
	TagUInt128
	TagUInt256
	TagUInt512
	TagKey
	TagUnit
	TagUInt64
	TagCLValue
)

var tagNames = map[Tag]string{
	TagInt32:      "Int32",
	TagByteArray:  "ByteArray",
	TagListInt32:  "ListInt32",
	TagString:     "String",
	TagAccount:    "Account",
	TagContract:   "Contract",
	TagListString: "ListString",
	TagNamedKey:   "NamedKey",
	TagUInt128:    "UInt128",
	TagUInt256:    "UInt256",
	TagUInt512:    "UInt512",
	TagKey:        "Key",
	TagUnit:       "Unit",
	TagUInt64:     "UInt64",
	TagCLValue:    "CLValue",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Value is the closed set of payloads global state can hold. The unexported
// marker keeps the set closed to this package.
type Value interface {
	Tag() Tag
	isValue()
}

type (
	Int32      int32
	UInt64     uint64
	ByteArray  []byte
	String     string
	ListInt32  []int32
	ListString []string
	Unit       struct{}
)

// NamedKey binds a human readable name to a key.
type NamedKey struct {
	Name string
	Key  Key
}

func (Int32) Tag() Tag      { return TagInt32 }
func (UInt64) Tag() Tag     { return TagUInt64 }
func (UInt128) Tag() Tag    { return TagUInt128 }
func (UInt256) Tag() Tag    { return TagUInt256 }
func (UInt512) Tag() Tag    { return TagUInt512 }
func (ByteArray) Tag() Tag  { return TagByteArray }
func (String) Tag() Tag     { return TagString }
func (ListInt32) Tag() Tag  { return TagListInt32 }
func (ListString) Tag() Tag { return TagListString }
func (NamedKey) Tag() Tag   { return TagNamedKey }
func (Key) Tag() Tag        { return TagKey }
func (Unit) Tag() Tag       { return TagUnit }
func (*Account) Tag() Tag   { return TagAccount }
func (*Contract) Tag() Tag  { return TagContract }
func (CLValue) Tag() Tag    { return TagCLValue }

func (Int32) isValue()      {}
func (UInt64) isValue()     {}
func (UInt128) isValue()    {}
func (UInt256) isValue()    {}
func (UInt512) isValue()    {}
func (ByteArray) isValue()  {}
func (String) isValue()     {}
func (ListInt32) isValue()  {}
func (ListString) isValue() {}
func (NamedKey) isValue()   {}
func (Key) isValue()        {}
func (Unit) isValue()       {}
func (*Account) isValue()   {}
func (*Contract) isValue()  {}
func (CLValue) isValue()    {}

// WrappingAdd returns a+b in two's complement.
func (a Int32) WrappingAdd(b Int32) Int32 { return a + b }

func (a UInt64) CheckedAdd(b UInt64) (UInt64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// UInt128 is an unsigned integer below 2^128.
type UInt128 struct{ v uint256.Int }

// NewUInt128 fails with ErrValueConversion when x needs more than 128 bits.
func NewUInt128(x *uint256.Int) (UInt128, error) {
	if x.BitLen() > 128 {
		return UInt128{}, fmt.Errorf("%w: %s exceeds 128 bits", caperrors.ErrValueConversion, x.Dec())
	}
	return UInt128{v: *x}, nil
}

func UInt128From(x uint64) UInt128 { return UInt128{v: *uint256.NewInt(x)} }

// Int returns a copy of the underlying integer.
func (u UInt128) Int() *uint256.Int { c := u.v; return &c }
func (u UInt128) String() string    { return u.v.Dec() }

func (a UInt128) CheckedAdd(b UInt128) (UInt128, bool) {
	var sum uint256.Int
	sum.Add(&a.v, &b.v)
	if sum.BitLen() > 128 {
		return UInt128{}, false
	}
	return UInt128{v: sum}, true
}

// UInt256 is an unsigned 256-bit integer.
type UInt256 struct{ v uint256.Int }

func NewUInt256(x *uint256.Int) UInt256 { return UInt256{v: *x} }
func UInt256From(x uint64) UInt256      { return UInt256{v: *uint256.NewInt(x)} }

func (u UInt256) Int() *uint256.Int { c := u.v; return &c }
func (u UInt256) String() string    { return u.v.Dec() }

func (a UInt256) CheckedAdd(b UInt256) (UInt256, bool) {
	var sum uint256.Int
	if _, overflow := sum.AddOverflow(&a.v, &b.v); overflow {
		return UInt256{}, false
	}
	return UInt256{v: sum}, true
}

// uint512Bytes is the fixed width of a UInt512 in memory.
const uint512Bytes = 64

// UInt512 is an unsigned integer below 2^512, kept as fixed-width big-endian
// bytes so the value stays comparable.
type UInt512 struct{ be [uint512Bytes]byte }

// NewUInt512 fails with ErrValueConversion for negative values or values
// wider than 512 bits.
func NewUInt512(x *big.Int) (UInt512, error) {
	if x.Sign() < 0 || x.BitLen() > 512 {
		return UInt512{}, fmt.Errorf("%w: %s outside uint512 range", caperrors.ErrValueConversion, x)
	}
	var out UInt512
	x.FillBytes(out.be[:])
	return out, nil
}

func UInt512From(x uint64) UInt512 {
	out, _ := NewUInt512(new(big.Int).SetUint64(x))
	return out
}

func (u UInt512) Big() *big.Int     { return new(big.Int).SetBytes(u.be[:]) }
func (u UInt512) String() string    { return u.Big().String() }
func (u UInt512) IsZero() bool      { return u == UInt512{} }
func (u UInt512) Cmp(o UInt512) int { return u.Big().Cmp(o.Big()) }

func (a UInt512) CheckedAdd(b UInt512) (UInt512, bool) {
	sum, err := NewUInt512(new(big.Int).Add(a.Big(), b.Big()))
	if err != nil {
		return UInt512{}, false
	}
	return sum, true
}

// Equal reports whether two values have the same canonical encoding.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, errA := EncodeValue(a)
	eb, errB := EncodeValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ea) == string(eb)
}

// As narrows v to T, failing with ErrValueConversion when v holds another
// variant.
func As[T Value](v Value) (T, error) {
	var zero T
	if v == nil {
		return zero, fmt.Errorf("%w: have nothing, want %T", caperrors.ErrValueConversion, zero)
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: have %s, want %T", caperrors.ErrValueConversion, v.Tag(), zero)
	}
	return out, nil
}
