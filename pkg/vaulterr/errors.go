// Package vaulterr defines the error taxonomy shared by every engine.
// Errors carry a Kind so the API layer can map them to HTTP statuses
// without string matching.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindDeleted            Kind = "deleted"
	KindDestroyed          Kind = "destroyed"
	KindAlreadyDestroyed   Kind = "already_destroyed"
	KindCASMismatch        Kind = "cas_mismatch"
	KindPermissionDenied   Kind = "permission_denied"
	KindTTLExceedsMax      Kind = "ttl_exceeds_max"
	KindRenewalExceedsMax  Kind = "renewal_exceeds_max_ttl"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindStatementError     Kind = "statement_error"
	KindRotationFailed     Kind = "rotation_failed"
	KindPartialRotation    Kind = "partial_rotation"
	KindLeaseTerminal      Kind = "lease_terminal"
	KindSealed             Kind = "sealed"
	KindInvalidRequest     Kind = "invalid_request"
	KindInternal           Kind = "internal"
)

// Error is a kinded engine error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes two Errors of the same Kind match under errors.Is, so sentinel
// comparisons like errors.Is(err, vaulterr.NotFound("")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Shorthand constructors for the kinds engines raise most often.

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Deleted(format string, args ...any) *Error {
	return New(KindDeleted, format, args...)
}

func Destroyed(format string, args ...any) *Error {
	return New(KindDestroyed, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return New(KindPermissionDenied, format, args...)
}

func CASMismatch(format string, args ...any) *Error {
	return New(KindCASMismatch, format, args...)
}

func Sealed() *Error {
	return New(KindSealed, "vault is sealed")
}
