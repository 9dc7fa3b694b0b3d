// Package kmeerror implements the closed error taxonomy of spec §7 as a
// sum type: a single Error struct whose Kind field is one of a fixed set
// of constants, constructed only through the named constructors below.
// Nothing in this module constructs a kmeerror.Error with errors.New or a
// raw struct literal outside this file.
package kmeerror

import (
	"fmt"
	"net/http"
)

// Kind is the closed set of error variants. The HTTP adaptor is the only
// component that maps a Kind to a status code and a response envelope.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindAuthenticationFailed  Kind = "AuthenticationFailed"
	KindUnauthorized          Kind = "Unauthorized"
	KindNotFound              Kind = "NotFound"
	KindExtensionUnsupported  Kind = "ExtensionUnsupported"
	KindExhausted             Kind = "Exhausted"
	KindInsufficient          Kind = "Insufficient"
	KindIntegrityError        Kind = "IntegrityError"
	KindStorageUnavailable    Kind = "StorageUnavailable"
	KindServiceUnavailable    Kind = "ServiceUnavailable"
)

// Detail is a single named offending parameter and the reason it failed,
// the unit the ETSI error envelope's "details" array is built from.
type Detail struct {
	Param  string
	Reason string
}

// Error is the single concrete error type for the whole taxonomy.
type Error struct {
	Kind    Kind
	Message string
	Details []Detail
	// Err wraps the underlying cause, if any, for logging; it is never
	// surfaced to the client.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, details ...Detail) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func InvalidRequest(message string, details ...Detail) *Error {
	return newErr(KindInvalidRequest, message, details...)
}

func AuthenticationFailed(message string) *Error {
	return newErr(KindAuthenticationFailed, message)
}

func Unauthorized(message string) *Error {
	return newErr(KindUnauthorized, message)
}

func NotFound(message string, details ...Detail) *Error {
	return newErr(KindNotFound, message, details...)
}

func ExtensionUnsupported(names []string) *Error {
	details := make([]Detail, 0, len(names))
	for _, n := range names {
		details = append(details, Detail{Param: n, Reason: "mandatory extension not supported"})
	}
	return newErr(KindExtensionUnsupported, "one or more mandatory extensions are not supported", details...)
}

func Exhausted(availableKeys, requestedKeys int, recommendation string) *Error {
	return &Error{
		Kind:    KindExhausted,
		Message: "key pool is exhausted",
		Details: []Detail{
			{Param: "available_keys", Reason: fmt.Sprintf("%d", availableKeys)},
			{Param: "requested_keys", Reason: fmt.Sprintf("%d", requestedKeys)},
			{Param: "recommendation", Reason: recommendation},
		},
	}
}

func Insufficient(availableKeys, requestedKeys int) *Error {
	return &Error{
		Kind:    KindInsufficient,
		Message: "insufficient keys available to satisfy request",
		Details: []Detail{
			{Param: "available_keys", Reason: fmt.Sprintf("%d", availableKeys)},
			{Param: "requested_keys", Reason: fmt.Sprintf("%d", requestedKeys)},
		},
	}
}

func IntegrityError(keyID string, cause error) *Error {
	return &Error{
		Kind:    KindIntegrityError,
		Message: "stored key failed integrity verification",
		Details: []Detail{{Param: "key_ID", Reason: keyID}},
		Err:     cause,
	}
}

func StorageUnavailable(cause error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: "storage layer is unavailable", Err: cause}
}

func ServiceUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: message, Err: cause}
}

// Recoverable reports whether the error is the client's to fix (as
// opposed to an operator/internal concern) per §7's propagation policy.
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindInvalidRequest, KindAuthenticationFailed, KindUnauthorized, KindNotFound, KindExtensionUnsupported:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code of the §7 taxonomy table.
// The HTTP adaptor is the only caller; everything else in this module
// treats errors as opaque values.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindNotFound, KindExtensionUnsupported:
		return http.StatusBadRequest
	case KindAuthenticationFailed, KindUnauthorized:
		return http.StatusUnauthorized
	case KindExhausted, KindInsufficient, KindIntegrityError, KindStorageUnavailable, KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the stable machine-readable token the response
// envelope's error_code field carries (spec.md §6/§7).
func (k Kind) ErrorCode() string {
	switch k {
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindAuthenticationFailed:
		return "AUTHENTICATION_FAILED"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindNotFound:
		return "KEY_NOT_FOUND"
	case KindExtensionUnsupported:
		return "EXTENSION_UNSUPPORTED"
	case KindExhausted:
		return "KEY_EXHAUSTION"
	case KindInsufficient:
		return "INSUFFICIENT_KEYS"
	case KindIntegrityError:
		return "INTEGRITY_ERROR"
	case KindStorageUnavailable:
		return "STORAGE_UNAVAILABLE"
	case KindServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
