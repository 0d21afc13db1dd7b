// Package apperr holds the error taxonomy shared by the scheduling packages.
// Callers wrap these sentinels with context and match them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrSlotConflict      = errors.New("slot is no longer available")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("actor is not allowed to perform this operation")
)

// Invalid wraps ErrInvalidRequest with a formatted detail message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind of entity that was missing.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

// Transition wraps ErrInvalidTransition with the offending edge.
func Transition(entity, from, op string) error {
	return fmt.Errorf("%w: cannot %s %s in status %q", ErrInvalidTransition, op, entity, from)
}

// Forbidden wraps ErrForbidden with a reason.
func Forbidden(reason string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}
