// Package apperr defines the error taxonomy shared across the engine.
// Every operation returns either a typed result or one of these kinds;
// the API layer maps each code to a specific user-facing message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport-level mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// Error is a typed application error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// ErrKind reports the error's kind. Domain error types that carry extra
// payload implement the same method instead of embedding Error.
func (e *Error) ErrKind() Kind {
	return e.Kind
}

// ErrCode reports the error's stable code.
func (e *Error) ErrCode() string {
	return e.Code
}

// Validation creates a validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized creates an authorization error.
func Unauthorized(code, format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: fmt.Sprintf(format, args...)}
}

type kinder interface {
	ErrKind() Kind
}

type coder interface {
	ErrCode() string
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var k kinder
	if errors.As(err, &k) {
		return k.ErrKind()
	}
	return KindUnknown
}

// CodeOf extracts the stable code from an error chain, or "".
func CodeOf(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.ErrCode()
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
