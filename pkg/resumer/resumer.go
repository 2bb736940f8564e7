// Package resumer wakes suspended runs whose delay has elapsed. It is the
// external scheduler side of delay nodes: the engine records when a delay
// may continue, the resumer periodically scans for elapsed ones and resumes
// them.
package resumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/workflow"
)

// ResumedBy marks scheduler-driven resumptions in the node output.
const ResumedBy = "scheduler"

type Resumer struct {
	persistence persistence.Persistence
	engine      *workflow.Engine
	logger      *slog.Logger
}

func NewResumer(p persistence.Persistence, engine *workflow.Engine, logger *slog.Logger) *Resumer {
	return &Resumer{
		persistence: p,
		engine:      engine,
		logger:      logger.With("module", "resumer"),
	}
}

// Scan resumes every waiting delay node whose recorded wake time has
// passed. Overlapping scans are harmless: resumption is conditioned on the
// node still waiting, so the loser of a race is a no-op. Returns how many
// nodes were resumed.
func (r *Resumer) Scan(ctx context.Context) (int, error) {
	waiting := models.ExecutionStatusWaiting

	executions, err := r.persistence.Executions(ctx, persistence.ListExecutionsOptions{Status: &waiting})
	if err != nil {
		return 0, fmt.Errorf("failed to list waiting executions: %w", err)
	}

	resumed := 0
	now := time.Now().UTC()

	for _, execution := range executions {
		count, err := r.scanExecution(ctx, execution, now)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan execution",
				"execution_id", execution.ID, "error", err)

			continue
		}

		resumed += count
	}

	return resumed, nil
}

func (r *Resumer) scanExecution(ctx context.Context, execution *models.WorkflowExecution, now time.Time) (int, error) {
	definition, err := r.persistence.WorkflowByID(ctx, execution.DefinitionID)
	if err != nil {
		return 0, err
	}

	nodeExecutions, err := r.persistence.NodeExecutionsByExecutionID(ctx, execution.ID)
	if err != nil {
		return 0, err
	}

	resumed := 0

	for _, nodeExecution := range nodeExecutions {
		if nodeExecution.Status != models.NodeExecutionStatusWaiting {
			continue
		}

		node := definition.NodeByID(nodeExecution.NodeID)
		if node == nil || node.Type != models.NodeTypeDelay {
			continue
		}

		resumeAt, ok := resumeTime(nodeExecution.Input)
		if !ok || resumeAt.After(now) {
			continue
		}

		r.logger.InfoContext(ctx, "Resuming elapsed delay",
			"execution_id", execution.ID, "node_id", nodeExecution.NodeID, "resume_at", resumeAt)

		if _, err := r.engine.Resume(ctx, execution.ID, nodeExecution.NodeID, map[string]any{"resumed_by": ResumedBy}); err != nil {
			r.logger.ErrorContext(ctx, "Failed to resume execution",
				"execution_id", execution.ID, "node_id", nodeExecution.NodeID, "error", err)

			continue
		}

		resumed++
	}

	return resumed, nil
}

func resumeTime(input map[string]any) (time.Time, bool) {
	raw, _ := input["resume_at"].(string)
	if raw == "" {
		return time.Time{}, false
	}

	resumeAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}

	return resumeAt, true
}
