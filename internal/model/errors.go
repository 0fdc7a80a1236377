package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when an operation is attempted without a
	// valid session.
	ErrUnauthorized = errors.New("unauthorized: must sign in")

	// ErrNotFound is returned when an operation targets a key id that does
	// not exist in the caller's scope.
	ErrNotFound = errors.New("key not found")

	// ErrStoreUnavailable wraps transport and connectivity failures from the
	// record store.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// ValidationError reports malformed caller input. Field names the input at
// fault using its wire name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError returns a *ValidationError for field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
