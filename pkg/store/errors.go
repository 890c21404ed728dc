package store

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a record does not exist for the owner.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("record already exists")

	// ErrInvalidDimension is returned when an embedding does not match the
	// store's configured dimension.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidVector is returned when embedding data is malformed.
	ErrInvalidVector = errors.New("invalid embedding data")

	// ErrStoreClosed is returned when using a store after Close.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when backend configuration is invalid.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrInvalidInput is the sentinel wrapped by every validation failure
	// across the engine and the temporal service, so transports can map
	// them uniformly.
	ErrInvalidInput = errors.New("invalid input")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("store: %v", e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with operation context. A nil error stays nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
