// Package apperr defines the closed set of failure kinds the gateway
// reports to clients, and the normalizer that serializes them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The zero value is Unexpected so that an
// uninitialized or unrecognized error is always treated as opaque.
type Kind int

const (
	Unexpected Kind = iota
	RouteNotFound
	Validation
	Authentication
	Authorization
	Conflict
	FanOutDegraded
)

func (k Kind) String() string {
	switch k {
	case RouteNotFound:
		return "route_not_found"
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case Conflict:
		return "conflict"
	case FanOutDegraded:
		return "fanout_degraded"
	default:
		return "unexpected"
	}
}

// Status maps a kind to its HTTP status code. The default arm catches
// every kind added without a mapping and keeps it opaque.
func (k Kind) Status() int {
	switch k {
	case RouteNotFound:
		return http.StatusNotFound
	case Validation:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case FanOutDegraded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Field carries structured detail for a validation-style failure.
type Field struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Error is a classified failure. Once written to a client it is
// never mutated.
type Error struct {
	Kind    Kind
	Message string
	Fields  []Field
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error. The cause is logged
// server-side; it never reaches the client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField appends structured detail and returns the same error.
func (e *Error) WithField(name, message string) *Error {
	e.Fields = append(e.Fields, Field{Name: name, Message: message})
	return e
}

// KindOf extracts the kind from any error. Non-Error values and nil
// causes report Unexpected.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Unexpected
}
