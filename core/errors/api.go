package errors

import (
	stderrors "errors"
	"fmt"
)

// APIError is the numeric code carried across the host boundary. Zero means
// success. Codes at or above UserErrorBase are reverts raised by guest code.
type APIError uint32

const (
	APIOk APIError = iota
	APIValueNotFound
	APIMalformedEncoding
	APIValueConversion
	APIUnexpectedKeyVariant
	APIInvalidAccess
	APIForgedReference
	APIHostBufferEmpty
	APIHostBufferFull
	APIBufferTooSmall
	APIMissingArgument
	APIInvalidArgument
	APINamedKeyMissing
	APINotAContract
	APIUnknownModule
	APITypeMismatch
	APIRootNotFound
	APIUnhandled
)

// UserErrorBase is the first code available to guest-defined reverts.
const UserErrorBase APIError = 1 << 16

var apiSentinels = map[APIError]error{
	APIValueNotFound:        ErrValueNotFound,
	APIMalformedEncoding:    ErrMalformedEncoding,
	APIValueConversion:      ErrValueConversion,
	APIUnexpectedKeyVariant: ErrUnexpectedKeyVariant,
	APIInvalidAccess:        ErrInvalidAccess,
	APIForgedReference:      ErrForgedReference,
	APIHostBufferEmpty:      ErrHostBufferEmpty,
	APIHostBufferFull:       ErrHostBufferFull,
	APIBufferTooSmall:       ErrBufferTooSmall,
	APIMissingArgument:      ErrMissingArgument,
	APIInvalidArgument:      ErrInvalidArgument,
	APINamedKeyMissing:      ErrNamedKeyMissing,
	APINotAContract:         ErrNotAContract,
	APIUnknownModule:        ErrUnknownModule,
	APITypeMismatch:         ErrTypeMismatch,
	APIRootNotFound:         ErrRootNotFound,
}

var apiNames = map[APIError]string{
	APIOk:                   "ok",
	APIValueNotFound:        "value_not_found",
	APIMalformedEncoding:    "malformed_encoding",
	APIValueConversion:      "value_conversion",
	APIUnexpectedKeyVariant: "unexpected_key_variant",
	APIInvalidAccess:        "invalid_access",
	APIForgedReference:      "forged_reference",
	APIHostBufferEmpty:      "host_buffer_empty",
	APIHostBufferFull:       "host_buffer_full",
	APIBufferTooSmall:       "buffer_too_small",
	APIMissingArgument:      "missing_argument",
	APIInvalidArgument:      "invalid_argument",
	APINamedKeyMissing:      "named_key_missing",
	APINotAContract:         "not_a_contract",
	APIUnknownModule:        "unknown_module",
	APITypeMismatch:         "type_mismatch",
	APIRootNotFound:         "root_not_found",
	APIUnhandled:            "unhandled",
}

// Name is a short stable label for the code, used in metrics.
func (e APIError) Name() string {
	if e.IsUser() {
		return "user"
	}
	if name, ok := apiNames[e]; ok {
		return name
	}
	return "unknown"
}

// User builds the revert code for a guest-defined error number.
func User(code uint16) APIError {
	return UserErrorBase + APIError(code)
}

// IsUser reports whether the code was raised by guest code.
func (e APIError) IsUser() bool { return e >= UserErrorBase }

func (e APIError) Error() string {
	if e.IsUser() {
		return fmt.Sprintf("api error: user error %d", uint32(e-UserErrorBase))
	}
	if sentinel, ok := apiSentinels[e]; ok {
		return fmt.Sprintf("api error %d: %v", uint32(e), sentinel)
	}
	if e == APIOk {
		return "api error 0: ok"
	}
	return fmt.Sprintf("api error %d: unhandled", uint32(e))
}

// Unwrap exposes the sentinel matching the code so errors.Is works on both
// sides of the boundary. User codes unwrap to ErrRevert.
func (e APIError) Unwrap() error {
	if e.IsUser() {
		return ErrRevert
	}
	return apiSentinels[e]
}

// Result converts a code into a Go error; APIOk yields nil.
func (e APIError) Result() error {
	if e == APIOk {
		return nil
	}
	return e
}

// ToAPIError classifies err into the code that crosses the host boundary.
func ToAPIError(err error) APIError {
	if err == nil {
		return APIOk
	}
	var code APIError
	if stderrors.As(err, &code) {
		return code
	}
	for c := APIValueNotFound; c < APIUnhandled; c++ {
		if stderrors.Is(err, apiSentinels[c]) {
			return c
		}
	}
	return APIUnhandled
}
