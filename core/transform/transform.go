// Package transform defines the deferred mutations an execution produces and
// the algebra used to merge them per key and apply them at commit.
//
// Unsigned adds use checked arithmetic: a sum that leaves the family's range
// becomes a Failure carrying ErrAddOverflow for that key only. Int32 adds wrap
// in two's complement, since mixed-sign partial sums could otherwise overflow
// under one grouping and not another.
package transform

import (
	"fmt"
	"strings"

	caperrors "capstore/core/errors"
	"capstore/core/types"
)

// Transform is the closed set of deferred mutations.
type Transform interface {
	isTransform()
	String() string
}

// Identity changes nothing. It is the neutral element of Merge.
type Identity struct{}

// Write replaces the stored value unconditionally.
type Write struct{ Value types.Value }

type AddInt32 struct{ Delta types.Int32 }
type AddUInt64 struct{ Delta types.UInt64 }
type AddUInt128 struct{ Delta types.UInt128 }
type AddUInt256 struct{ Delta types.UInt256 }
type AddUInt512 struct{ Delta types.UInt512 }

// AddKeys inserts named keys into an Account or Contract. Later names win.
type AddKeys struct{ Keys types.NamedKeys }

// Failure marks a key whose transforms could not be combined. It occupies the
// key in the effect map so the failure is visible to the caller.
type Failure struct{ Err error }

func (Identity) isTransform()   {}
func (Write) isTransform()      {}
func (AddInt32) isTransform()   {}
func (AddUInt64) isTransform()  {}
func (AddUInt128) isTransform() {}
func (AddUInt256) isTransform() {}
func (AddUInt512) isTransform() {}
func (AddKeys) isTransform()    {}
func (Failure) isTransform()    {}

func (Identity) String() string     { return "Identity" }
func (t Write) String() string      { return fmt.Sprintf("Write(%s)", describe(t.Value)) }
func (t AddInt32) String() string   { return fmt.Sprintf("AddInt32(%d)", t.Delta) }
func (t AddUInt64) String() string  { return fmt.Sprintf("AddUInt64(%d)", t.Delta) }
func (t AddUInt128) String() string { return fmt.Sprintf("AddUInt128(%s)", t.Delta) }
func (t AddUInt256) String() string { return fmt.Sprintf("AddUInt256(%s)", t.Delta) }
func (t AddUInt512) String() string { return fmt.Sprintf("AddUInt512(%s)", t.Delta) }
func (t Failure) String() string    { return fmt.Sprintf("Failure(%v)", t.Err) }

func (t AddKeys) String() string {
	parts := make([]string, 0, len(t.Keys))
	for _, name := range t.Keys.Names() {
		parts = append(parts, name+"="+t.Keys[name].String())
	}
	return "AddKeys{" + strings.Join(parts, ", ") + "}"
}

// Error lets a Failure be returned where an error is expected.
func (t Failure) Error() string { return t.Err.Error() }
func (t Failure) Unwrap() error { return t.Err }

func describe(v types.Value) string {
	if s, ok := v.(fmt.Stringer); ok {
		return fmt.Sprintf("%s:%s", v.Tag(), s)
	}
	return fmt.Sprintf("%s:%v", v.Tag(), v)
}

func fail(err error, format string, args ...interface{}) Failure {
	return Failure{Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)}
}

// FromAdd maps a value passed to an add operation onto its transform.
// Non-numeric values other than NamedKey have no commutative merge and map to
// a Failure.
func FromAdd(v types.Value) Transform {
	switch val := v.(type) {
	case types.Int32:
		return AddInt32{Delta: val}
	case types.UInt64:
		return AddUInt64{Delta: val}
	case types.UInt128:
		return AddUInt128{Delta: val}
	case types.UInt256:
		return AddUInt256{Delta: val}
	case types.UInt512:
		return AddUInt512{Delta: val}
	case types.NamedKey:
		return AddKeys{Keys: types.NamedKeys{val.Name: val.Key}}
	case nil:
		return fail(caperrors.ErrTypeMismatch, "add nothing")
	default:
		return fail(caperrors.ErrTypeMismatch, "add %s", v.Tag())
	}
}

// Merge combines a transform with one produced after it for the same key.
// Merging is composition of the two mutations, so it is associative; Identity
// is neutral on both sides.
func Merge(a, b Transform) Transform {
	if a == nil {
		a = Identity{}
	}
	if b == nil {
		b = Identity{}
	}
	if _, ok := a.(Identity); ok {
		return b
	}
	if _, ok := b.(Identity); ok {
		return a
	}
	// A later write replaces whatever came before it, failures included.
	if w, ok := b.(Write); ok {
		return w
	}
	if f, ok := a.(Failure); ok {
		return f
	}
	if f, ok := b.(Failure); ok {
		return f
	}
	if w, ok := a.(Write); ok {
		next, err := Apply(b, w.Value)
		if err != nil {
			return Failure{Err: err}
		}
		return Write{Value: next}
	}
	return mergeAdds(a, b)
}

func mergeAdds(a, b Transform) Transform {
	switch x := a.(type) {
	case AddInt32:
		if y, ok := b.(AddInt32); ok {
			return AddInt32{Delta: x.Delta.WrappingAdd(y.Delta)}
		}
	case AddUInt64:
		if y, ok := b.(AddUInt64); ok {
			if sum, ok := x.Delta.CheckedAdd(y.Delta); ok {
				return AddUInt64{Delta: sum}
			}
			return fail(caperrors.ErrAddOverflow, "merge %s with %s", x, y)
		}
	case AddUInt128:
		if y, ok := b.(AddUInt128); ok {
			if sum, ok := x.Delta.CheckedAdd(y.Delta); ok {
				return AddUInt128{Delta: sum}
			}
			return fail(caperrors.ErrAddOverflow, "merge %s with %s", x, y)
		}
	case AddUInt256:
		if y, ok := b.(AddUInt256); ok {
			if sum, ok := x.Delta.CheckedAdd(y.Delta); ok {
				return AddUInt256{Delta: sum}
			}
			return fail(caperrors.ErrAddOverflow, "merge %s with %s", x, y)
		}
	case AddUInt512:
		if y, ok := b.(AddUInt512); ok {
			if sum, ok := x.Delta.CheckedAdd(y.Delta); ok {
				return AddUInt512{Delta: sum}
			}
			return fail(caperrors.ErrAddOverflow, "merge %s with %s", x, y)
		}
	case AddKeys:
		if y, ok := b.(AddKeys); ok {
			union := x.Keys.Clone()
			for name, key := range y.Keys {
				union[name] = key
			}
			return AddKeys{Keys: union}
		}
	}
	return fail(caperrors.ErrTypeMismatch, "merge %s with %s", a, b)
}

// Apply computes the value stored after t runs against current. A nil current
// means the key is absent: numeric adds then start from the zero value of
// their family, Identity leaves the key absent, and AddKeys fails.
func Apply(t Transform, current types.Value) (types.Value, error) {
	switch tr := t.(type) {
	case nil, Identity:
		return current, nil
	case Write:
		return tr.Value, nil
	case Failure:
		return nil, tr.Err
	case AddInt32:
		base, err := numericBase[types.Int32](current, tr)
		if err != nil {
			return nil, err
		}
		return base.WrappingAdd(tr.Delta), nil
	case AddUInt64:
		base, err := numericBase[types.UInt64](current, tr)
		if err != nil {
			return nil, err
		}
		if sum, ok := base.CheckedAdd(tr.Delta); ok {
			return sum, nil
		}
		return nil, fmt.Errorf("apply %s to %d: %w", tr, base, caperrors.ErrAddOverflow)
	case AddUInt128:
		base, err := numericBase[types.UInt128](current, tr)
		if err != nil {
			return nil, err
		}
		if sum, ok := base.CheckedAdd(tr.Delta); ok {
			return sum, nil
		}
		return nil, fmt.Errorf("apply %s to %s: %w", tr, base, caperrors.ErrAddOverflow)
	case AddUInt256:
		base, err := numericBase[types.UInt256](current, tr)
		if err != nil {
			return nil, err
		}
		if sum, ok := base.CheckedAdd(tr.Delta); ok {
			return sum, nil
		}
		return nil, fmt.Errorf("apply %s to %s: %w", tr, base, caperrors.ErrAddOverflow)
	case AddUInt512:
		base, err := numericBase[types.UInt512](current, tr)
		if err != nil {
			return nil, err
		}
		if sum, ok := base.CheckedAdd(tr.Delta); ok {
			return sum, nil
		}
		return nil, fmt.Errorf("apply %s to %s: %w", tr, base, caperrors.ErrAddOverflow)
	case AddKeys:
		return applyKeys(tr, current)
	default:
		return nil, fmt.Errorf("apply %T: %w", t, caperrors.ErrTypeMismatch)
	}
}

func numericBase[T types.Value](current types.Value, t Transform) (T, error) {
	var zero T
	if current == nil {
		return zero, nil
	}
	base, ok := current.(T)
	if !ok {
		return zero, fmt.Errorf("apply %s to %s: %w", t, current.Tag(), caperrors.ErrTypeMismatch)
	}
	return base, nil
}

func applyKeys(t AddKeys, current types.Value) (types.Value, error) {
	switch rec := current.(type) {
	case *types.Account:
		out := rec.Copy()
		for name, key := range t.Keys {
			out.NamedKeys[name] = key
		}
		return out, nil
	case *types.Contract:
		out := rec.Copy()
		for name, key := range t.Keys {
			out.NamedKeys[name] = key
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("apply %s to absent key: %w", t, caperrors.ErrTypeMismatch)
	default:
		return nil, fmt.Errorf("apply %s to %s: %w", t, current.Tag(), caperrors.ErrTypeMismatch)
	}
}

// IsFailure reports whether t is a Failure.
func IsFailure(t Transform) bool {
	_, ok := t.(Failure)
	return ok
}
