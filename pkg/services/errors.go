// Package services provides the business operations behind the HTTP surface
// and standardized error types for them.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnknownNodeType     = errors.New("unknown node type")
	ErrEdgeNodeMissing     = errors.New("edge references a node outside the definition")
	ErrDuplicateNodeID     = errors.New("duplicate node id")
	ErrInvalidActionConfig = errors.New("invalid action configuration")
	ErrDefinitionNil       = errors.New("definition cannot be nil")
	ErrNodeIDRequired      = errors.New("node id is required")

	// Business logic conflicts (409 Conflict).
	ErrVersionMismatch     = errors.New("definition was modified concurrently")
	ErrExecutionNotWaiting = errors.New("execution is not waiting")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownNodeType) ||
		errors.Is(err, ErrEdgeNodeMissing) ||
		errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrInvalidActionConfig) ||
		errors.Is(err, ErrDefinitionNil) ||
		errors.Is(err, ErrNodeIDRequired)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrVersionMismatch) ||
		errors.Is(err, ErrExecutionNotWaiting)
}

// NewValidationError creates a validation error with operation context.
func NewValidationError(op, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}
