// Package persistence provides the data storage abstraction for workflow
// definitions and executions.
package persistence

import (
	"context"

	"github.com/taskforge/taskforge/pkg/models"
)

// ListWorkflowsOptions filters definition listings. When ProjectID is set
// the result contains global definitions plus the project's own; EnabledOnly
// drops disabled definitions.
type ListWorkflowsOptions struct {
	ProjectID   *string
	EnabledOnly bool
}

// ListExecutionsOptions filters execution listings. Zero values mean no
// filtering on that dimension.
type ListExecutionsOptions struct {
	DefinitionID string
	EntityID     string
	Status       *models.ExecutionStatus
}

type Persistence interface {
	Workflows(ctx context.Context, opts ListWorkflowsOptions) ([]*models.WorkflowDefinition, error)
	WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// SaveWorkflow upserts a definition together with its full node and edge
	// set; existing nodes and edges are replaced wholesale.
	SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error
	// DeleteWorkflow removes the definition and cascades to its nodes,
	// edges, executions and node executions.
	DeleteWorkflow(ctx context.Context, id string) error

	Executions(ctx context.Context, opts ListExecutionsOptions) ([]*models.WorkflowExecution, error)
	ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error

	NodeExecutionsByExecutionID(ctx context.Context, executionID string) ([]*models.NodeExecution, error)
	SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error
	// TransitionNodeExecution atomically moves a node execution from one
	// status to another, recording output when given. It returns false when
	// the row is not currently in the expected status, which makes a
	// concurrent duplicate transition a no-op.
	TransitionNodeExecution(ctx context.Context, id string, from, to models.NodeExecutionStatus, output map[string]any) (bool, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
