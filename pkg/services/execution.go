package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/workflow"
)

// ErrExecutionNotFound is returned when a run is not found.
var ErrExecutionNotFound = persistence.ErrExecutionNotFound

// Execution exposes run inspection plus the two engine entry points the API
// surfaces directly: manual triggering and resumption.
type Execution struct {
	persistence persistence.Persistence
	engine      *workflow.Engine
}

func NewExecution(p persistence.Persistence, engine *workflow.Engine) *Execution {
	return &Execution{
		persistence: p,
		engine:      engine,
	}
}

// ListExecutionsRequest contains the filters for listing runs.
type ListExecutionsRequest struct {
	DefinitionID string
	EntityID     string
	Status       *models.ExecutionStatus
}

// ListExecutions retrieves runs matching the filters, newest first.
func (e *Execution) ListExecutions(ctx context.Context, req ListExecutionsRequest) ([]*models.WorkflowExecution, error) {
	executions, err := e.persistence.Executions(ctx, persistence.ListExecutionsOptions{
		DefinitionID: req.DefinitionID,
		EntityID:     req.EntityID,
		Status:       req.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// ExecutionDetail is a run together with its per-node history.
type ExecutionDetail struct {
	Execution      *models.WorkflowExecution `json:"execution"`
	NodeExecutions []*models.NodeExecution   `json:"node_executions"`
}

// FetchExecution retrieves a run with its node execution history.
func (e *Execution) FetchExecution(ctx context.Context, id string) (*ExecutionDetail, error) {
	if id == "" {
		return nil, NewValidationError("FetchExecution", "id is required", ErrInvalidRequest)
	}

	execution, err := e.persistence.ExecutionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	nodeExecutions, err := e.persistence.NodeExecutionsByExecutionID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load node executions: %w", err)
	}

	return &ExecutionDetail{Execution: execution, NodeExecutions: nodeExecutions}, nil
}

// TriggerManual starts a run of the definition from its first trigger node.
func (e *Execution) TriggerManual(ctx context.Context, definitionID, entityType, entityID string) (*models.WorkflowExecution, error) {
	if definitionID == "" {
		return nil, NewValidationError("TriggerManual", "definition id is required", ErrInvalidRequest)
	}

	execution, err := e.engine.TriggerManual(ctx, definitionID, entityType, entityID)
	if err != nil {
		if errors.Is(err, workflow.ErrNoTriggerNode) {
			return nil, NewValidationError("TriggerManual", "definition has no trigger node", ErrInvalidRequest)
		}

		return nil, err
	}

	return execution, nil
}

// Resume completes a waiting node of a suspended run and continues it. A
// run that is not waiting, or a node that already left the waiting state,
// makes this a no-op returning current state.
func (e *Execution) Resume(ctx context.Context, executionID, nodeID string, result map[string]any) (*models.WorkflowExecution, error) {
	if executionID == "" || nodeID == "" {
		return nil, NewValidationError("Resume", "execution id and node id are required", ErrInvalidRequest)
	}

	return e.engine.Resume(ctx, executionID, nodeID, result)
}
