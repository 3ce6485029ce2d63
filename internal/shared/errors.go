// Package shared holds cross-cutting helpers used by every billing module.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds returned by the billing core. Every failed call maps to exactly
// one of these and leaves state untouched.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates the operation is not permitted in the
	// entity's current state, e.g. paying a void invoice.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a uniqueness or one-invoice-per-order violation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
)

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// InvalidStatef wraps ErrInvalidState with a formatted detail message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidState}, args...)...)
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}
