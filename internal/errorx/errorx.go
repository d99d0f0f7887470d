// Package errorx defines the domain error taxonomy shared by the OAuth2
// services and their stores. Every failure a caller can act on is one of the
// kinds below; storage and hasher faults are wrapped as KindInternal so the
// HTTP boundary can keep them apart from bad input.
package errorx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidParameter
	KindUnauthorized
	KindAlreadyExists
	KindForbidden
)

// Error carries a kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works on wrapped and formatted instances alike.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// HTTPStatus maps the kind to the status code the boundary should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidParameter:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindAlreadyExists:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks. Use the constructors below when a message
// adds context.
var (
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrAlreadyExists = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrForbidden     = &Error{Kind: KindForbidden, Message: "forbidden"}
)

// NotFound returns a KindNotFound error with a formatted message.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidParameter returns a KindInvalidParameter error with a formatted message.
func InvalidParameter(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidParameter, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized returns a KindUnauthorized error with a formatted message.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an infrastructure failure. It never masks a domain error:
// if err already carries a kind it is returned unchanged.
func Internal(msg string, err error) *Error {
	var domain *Error
	if errors.As(err, &domain) {
		return domain
	}
	return &Error{Kind: KindInternal, Message: msg, Cause: err}
}

// StatusFor resolves any error to an HTTP status code.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
