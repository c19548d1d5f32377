// Package apperr defines classified errors shared across the engine.
// Each error carries a Kind that the HTTP layer maps to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation    Kind = "validation"     // malformed or out-of-range input
	KindUnsupported   Kind = "unsupported"    // known field, unknown value
	KindNotFound      Kind = "not_found"      // referenced resource missing
	KindForbidden     Kind = "forbidden"      // path or resource outside allowed roots
	KindUnprocessable Kind = "unprocessable"  // input parsed but yielded no usable content
	KindAuth          Kind = "auth"           // missing or malformed credentials
	KindPayment       Kind = "payment"        // usage limit reached
	KindUpstream      Kind = "upstream"       // provider or verification service failure
	KindConfig        Kind = "config"         // required server configuration missing
	KindInternal      Kind = "internal"       // anything else
)

// Error is a classified error with a user-facing message. Status, when
// non-zero, overrides the kind's default HTTP status; the verification
// service propagates upstream statuses this way.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err. Unclassified errors
// collapse to a generic message so internal detail never leaks to clients.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Internal server error"
}

// HTTPStatus maps an error to an HTTP status code. An explicit Status on
// a classified error wins over the kind mapping.
func HTTPStatus(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	switch KindOf(err) {
	case KindValidation, KindUnsupported:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindAuth:
		return http.StatusUnauthorized
	case KindPayment:
		return http.StatusPaymentRequired
	case KindUpstream:
		return http.StatusBadGateway
	case KindConfig, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
