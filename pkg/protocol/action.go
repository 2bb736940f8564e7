// Package protocol defines the interfaces between the execution engine and
// its pluggable actions and external collaborators.
package protocol

import (
	"context"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/models"
)

// Action is the side-effecting behavior behind an action node. Execute
// receives the execution context with templates already resolved and returns
// the payload recorded as the node's output.
type Action interface {
	Execute(ctx context.Context, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates Action instances from a node configuration.
type ActionFactory interface {
	// ID returns the actionType this factory handles.
	ID() string
	// Schema returns the JSON schema describing valid configurations.
	Schema() map[string]any
	Create(config map[string]any) (Action, error)
}
