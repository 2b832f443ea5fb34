package errors

import stderrors "errors"

// Storage and capability failures. Keep in the order of the taxonomy they
// belong to; callers compare with errors.Is.
var (
	ErrValueNotFound        = stderrors.New("state: value not found")
	ErrValueConversion      = stderrors.New("state: value conversion failed")
	ErrUnexpectedKeyVariant = stderrors.New("state: unexpected key variant")
	ErrInvalidAccess        = stderrors.New("state: invalid access rights")
	ErrForgedReference      = stderrors.New("state: forged reference")
	ErrRightsWidened        = stderrors.New("state: access rights may only be narrowed")
)

// Transform algebra failures.
var (
	ErrTypeMismatch = stderrors.New("transform: type mismatch")
	ErrAddOverflow  = stderrors.New("transform: add overflow")
)

// Commit and global state failures.
var (
	ErrCommitFailure     = stderrors.New("commit: failure")
	ErrRootNotFound      = stderrors.New("commit: state root not found")
	ErrKeyNotFound       = stderrors.New("commit: key not found")
	ErrMalformedEncoding = stderrors.New("codec: malformed encoding")
	ErrAccumulatorClosed = stderrors.New("effects: accumulator no longer accumulating")
)

// Host boundary failures.
var (
	ErrHostBufferEmpty = stderrors.New("host: buffer empty")
	ErrHostBufferFull  = stderrors.New("host: buffer full")
	ErrBufferTooSmall  = stderrors.New("host: destination buffer too small")
	ErrMissingArgument = stderrors.New("host: missing argument")
	ErrInvalidArgument = stderrors.New("host: invalid argument")
	ErrNamedKeyMissing = stderrors.New("host: named key missing")
	ErrNotAContract    = stderrors.New("host: key does not hold a contract")
	ErrUnknownModule   = stderrors.New("host: unknown module")
	ErrRevert          = stderrors.New("execution: reverted")
	ErrAccountMissing  = stderrors.New("execution: deploy account missing")
)
