// Package errs defines the typed error kinds shared by every core
// component. Handlers return these; the gateway translates them into the
// wire failure shape.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and wire translation.
type Kind int

const (
	// KindInternal - store or indexer invariant violation; not recovered locally.
	KindInternal Kind = iota
	// KindInvalidInput - caller-supplied arguments failed schema or value checks.
	KindInvalidInput
	// KindNotFound - referenced entity is absent.
	KindNotFound
	// KindCycleDetected - a task parent assignment would create a cycle.
	KindCycleDetected
	// KindConflict - uniqueness violation.
	KindConflict
	// KindUnavailable - external provider disconnected or unreachable.
	KindUnavailable
	// KindTimeout - the call exceeded its deadline.
	KindTimeout
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindCycleDetected:
		return "cycle_detected"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error carries a kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidInput(format string, args ...any) *Error {
	return New(KindInvalidInput, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func CycleDetected(format string, args ...any) *Error {
	return New(KindCycleDetected, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return New(KindTimeout, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf extracts the kind from err, defaulting to KindInternal for
// untyped errors. Context deadline errors map to KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}
