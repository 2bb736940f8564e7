package persistence

import "errors"

var (
	ErrWorkflowNotFound      = errors.New("workflow definition not found")
	ErrExecutionNotFound     = errors.New("workflow execution not found")
	ErrNodeExecutionNotFound = errors.New("node execution not found")
)

// IsWorkflowNotFound checks whether an error indicates a missing definition.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks whether an error indicates a missing execution.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsNodeExecutionNotFound checks whether an error indicates a missing node
// execution.
func IsNodeExecutionNotFound(err error) bool {
	return errors.Is(err, ErrNodeExecutionNotFound)
}
