// Package errs defines the error taxonomy shared by the lending service and
// the gateway. Every error surfaced to a client carries a Kind, and the Kind
// alone decides the HTTP status.
package errs

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how the caller should react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnavailable
	KindAuth
	KindUpstream
	KindStorage
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "resource_unavailable"
	case KindAuth:
		return "auth"
	case KindUpstream:
		return "upstream"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Status maps the kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable, KindUpstream:
		return http.StatusServiceUnavailable
	case KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe to show to clients; Err is
// the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// status overrides Kind.Status for domain-specific codes.
	status int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithStatus returns a copy of e answered with the given HTTP status instead
// of the kind's default.
func (e *Error) WithStatus(status int) *Error {
	c := *e
	c.status = status
	return &c
}

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Validation(message string) *Error { return New(KindValidation, message) }
func NotFound(message string) *Error   { return New(KindNotFound, message) }
func Conflict(message string) *Error   { return New(KindConflict, message) }
func Auth(message string) *Error       { return New(KindAuth, message) }

// Unavailable reports a resource the caller declined to touch (open breaker,
// exhausted pool).
func Unavailable(message string, cause error) *Error {
	return Wrap(KindUnavailable, message, cause)
}

// Upstream reports a transport-level failure talking to an upstream service.
func Upstream(message string, cause error) *Error {
	return Wrap(KindUpstream, message, cause)
}

// Storage reports an unexpected database failure.
func Storage(message string, cause error) *Error {
	return Wrap(KindStorage, message, cause)
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Status returns the HTTP status for err.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.status != 0 {
			return e.status
		}
		return e.Kind.Status()
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the client-facing message for err. Unclassified
// errors never leak their text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
