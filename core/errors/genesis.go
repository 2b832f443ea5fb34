package errors

import stderrors "errors"

var (
	ErrGenesisInvalid     = stderrors.New("genesis: invalid spec")
	ErrDuplicateAccount   = stderrors.New("genesis: duplicate account")
	ErrInvalidAmount      = stderrors.New("genesis: invalid amount")
	ErrAlreadyInitialized = stderrors.New("genesis: state already initialized")
)
