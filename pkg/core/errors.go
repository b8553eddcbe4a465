package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested agent or memory was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that the snapshot store could not be
	// opened.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrDuplicateMemory indicates that an insert was rejected as a
	// duplicate, either of a recent memory or of a line already recorded
	// in the current conversation.
	ErrDuplicateMemory = errors.New("duplicate memory detected")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a snapshot store operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrClosed indicates that the client has been closed.
	ErrClosed = errors.New("client closed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "AddMemory",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "colonymem: AddMemory: invalid input"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "colonymem: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("colonymem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Save", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "AddMemory", "Save", "Load")
//   - err: The underlying error to wrap
//
// Returns a MemoryError, or nil if err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}
