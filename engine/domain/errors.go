package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the retrieval subsystem.
var (
	ErrInvalidQuery    = errors.New("invalid query")
	ErrQueryTooShort   = errors.New("query too short")
	ErrServiceNotReady = errors.New("knowledge base not ready")
	ErrIndexMissing    = errors.New("knowledge index missing")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

// Unwrap exposes both the specific cause and the ErrInvalidQuery class so
// callers can match either with errors.Is.
func (e *ValidationError) Unwrap() []error { return []error{e.Wrapped, ErrInvalidQuery} }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
