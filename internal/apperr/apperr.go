// Package apperr carries a failure kind through ordinary error chains so the
// dispatcher can turn any handler error into exactly one response status.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	// KindConflict is a business rule rejection whose message is safe to show.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a classified failure. Message is what the client sees; Err is
// kept for logs and audit only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func BadRequest(format string, args ...any) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }

func Forbidden(message string) *Error { return New(KindForbidden, message) }

func NotFound(message string) *Error { return New(KindNotFound, message) }

func Conflict(message string) *Error { return New(KindConflict, message) }

// Classify returns the kind and client-safe message of err. Anything that
// is not an *Error is internal and gets a generic message.
func Classify(err error) (Kind, string) {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Kind == KindInternal {
			return KindInternal, "internal error"
		}
		return ae.Kind, ae.Message
	}
	return KindInternal, "internal error"
}

func IsKind(err error, kind Kind) bool {
	k, _ := Classify(err)
	return err != nil && k == kind
}
