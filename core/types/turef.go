package types

import (
	"fmt"

	caperrors "capstore/core/errors"
)

// TURef is a URef tagged at compile time with the value type its slot holds.
// The tag costs nothing at runtime; conversions to and from URef and Key are
// lossless.
type TURef[T Value] struct {
	uref URef
}

func NewTURef[T Value](addr Address, rights AccessRights) TURef[T] {
	return TURef[T]{uref: NewURef(addr, rights)}
}

func TURefFromURef[T Value](u URef) TURef[T] { return TURef[T]{uref: u} }

// TURefFromKey fails with ErrUnexpectedKeyVariant unless k is a URef key.
func TURefFromKey[T Value](k Key) (TURef[T], error) {
	u, ok := k.AsURef()
	if !ok {
		return TURef[T]{}, fmt.Errorf("turef from %s: %w", k, caperrors.ErrUnexpectedKeyVariant)
	}
	return TURef[T]{uref: u}, nil
}

func (t TURef[T]) URef() URef           { return t.uref }
func (t TURef[T]) Key() Key             { return URefKey(t.uref) }
func (t TURef[T]) Addr() Address        { return t.uref.addr }
func (t TURef[T]) Rights() AccessRights { return t.uref.rights }

// Narrow returns a reference holding only rights; see URef.Narrow.
func (t TURef[T]) Narrow(rights AccessRights) (TURef[T], error) {
	u, err := t.uref.Narrow(rights)
	if err != nil {
		return TURef[T]{}, err
	}
	return TURef[T]{uref: u}, nil
}

func (t TURef[T]) String() string { return t.uref.String() }
