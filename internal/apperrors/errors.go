// Package apperrors defines the closed set of error kinds shared by
// every component. Components return these; only the HTTP boundary
// translates them into status codes.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind string

const (
	// KindAuth means the caller presented a bad or missing credential
	// or capability token.
	KindAuth Kind = "AUTH"
	// KindPermission means the caller is authenticated but not allowed
	// (wrong role, muted, kicked, not a member).
	KindPermission Kind = "PERMISSION"
	// KindNotFound means the referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict means a duplicate membership, a stale post, or a
	// duplicate invite. The caller should re-poll and retry.
	KindConflict Kind = "CONFLICT"
	// KindValidation means moderation rejected the content or the
	// input was malformed.
	KindValidation Kind = "VALIDATION"
	// KindState means an illegal lifecycle transition, a full session,
	// or a session in the wrong phase.
	KindState Kind = "STATE"
)

// Error is an application-level error with a kind and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
