package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
)

// ExecutionRepository handles execution and node-execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , definition_id
  , trigger_node_id
  , entity_type
  , entity_id
  , status
  , context
  , error
  , started_at
  , completed_at
`

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE ($1::text = '' OR definition_id::text = $1)
		  AND ($2::text = '' OR entity_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY started_at DESC
	`

	var status *string

	if opts.Status != nil {
		s := string(*opts.Status)
		status = &s
	}

	rows, err := r.db.QueryContext(ctx, query, opts.DefinitionID, opts.EntityID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	contextData, err := json.Marshal(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to encode execution context: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, definition_id, trigger_node_id, entity_type, entity_id, status, context, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , context = EXCLUDED.context
		  , error = EXCLUDED.error
		  , completed_at = EXCLUDED.completed_at
	`, execution.ID, execution.DefinitionID, execution.TriggerNodeID, execution.EntityType,
		execution.EntityID, execution.Status, contextData, execution.Error,
		execution.StartedAt, execution.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) NodeExecutionsByExecutionID(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_id, status, input, output, error, started_at, completed_at
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY started_at, id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	nodeExecutions := make([]*models.NodeExecution, 0)

	for rows.Next() {
		nodeExecution := &models.NodeExecution{ExecutionID: executionID}

		var input, output []byte

		err := rows.Scan(
			&nodeExecution.ID,
			&nodeExecution.NodeID,
			&nodeExecution.Status,
			&input,
			&output,
			&nodeExecution.Error,
			&nodeExecution.StartedAt,
			&nodeExecution.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		if len(input) > 0 {
			if err := json.Unmarshal(input, &nodeExecution.Input); err != nil {
				return nil, fmt.Errorf("failed to decode input for node execution %s: %w", nodeExecution.ID, err)
			}
		}

		if len(output) > 0 {
			if err := json.Unmarshal(output, &nodeExecution.Output); err != nil {
				return nil, fmt.Errorf("failed to decode output for node execution %s: %w", nodeExecution.ID, err)
			}
		}

		nodeExecutions = append(nodeExecutions, nodeExecution)
	}

	return nodeExecutions, rows.Err()
}

func (r *ExecutionRepository) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	input, err := json.Marshal(nodeExecution.Input)
	if err != nil {
		return fmt.Errorf("failed to encode node execution input: %w", err)
	}

	output, err := json.Marshal(nodeExecution.Output)
	if err != nil {
		return fmt.Errorf("failed to encode node execution output: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO node_executions (id, execution_id, node_id, status, input, output, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , input = EXCLUDED.input
		  , output = EXCLUDED.output
		  , error = EXCLUDED.error
		  , completed_at = EXCLUDED.completed_at
	`, nodeExecution.ID, nodeExecution.ExecutionID, nodeExecution.NodeID, nodeExecution.Status,
		input, output, nodeExecution.Error, nodeExecution.StartedAt, nodeExecution.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save node execution: %w", err)
	}

	return nil
}

// TransitionNodeExecution is the compare-and-set transition backing resume:
// the UPDATE is conditioned on the current status, so the second of two
// concurrent attempts matches zero rows.
func (r *ExecutionRepository) TransitionNodeExecution(ctx context.Context, id string, from, to models.NodeExecutionStatus, output map[string]any) (bool, error) {
	var encodedOutput []byte

	if output != nil {
		var err error

		encodedOutput, err = json.Marshal(output)
		if err != nil {
			return false, fmt.Errorf("failed to encode node execution output: %w", err)
		}
	}

	var completedAt *time.Time

	if to.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE node_executions
		SET status = $1
		  , output = COALESCE($2, output)
		  , completed_at = COALESCE($3, completed_at)
		WHERE id = $4 AND status = $5
	`, to, encodedOutput, completedAt, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition node execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check transition result: %w", err)
	}

	if affected == 0 {
		// Distinguish a missing row from a lost CAS race.
		var exists bool

		err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM node_executions WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("failed to check node execution existence: %w", err)
		}

		if !exists {
			return false, persistence.ErrNodeExecutionNotFound
		}

		return false, nil
	}

	return true, nil
}

func (r *ExecutionRepository) scanExecution(row interface{ Scan(...any) error }) (*models.WorkflowExecution, error) {
	execution := new(models.WorkflowExecution)

	var contextData []byte

	err := row.Scan(
		&execution.ID,
		&execution.DefinitionID,
		&execution.TriggerNodeID,
		&execution.EntityType,
		&execution.EntityID,
		&execution.Status,
		&contextData,
		&execution.Error,
		&execution.StartedAt,
		&execution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(contextData) > 0 {
		if err := json.Unmarshal(contextData, &execution.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context for execution %s: %w", execution.ID, err)
		}
	}

	return execution, nil
}

func (r *ExecutionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
