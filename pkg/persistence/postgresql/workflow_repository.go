package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
)

// WorkflowRepository handles definition-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , project_id
  , name
  , description
  , enabled
  , version
  , created_by
  , created_at
  , updated_at
`

// List returns definitions matching the options. A project filter includes
// global definitions alongside the project's own.
func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflow_definitions
		WHERE ($1::text IS NULL OR project_id IS NULL OR project_id = $1)
		  AND ($2::boolean = false OR enabled = true)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, opts.ProjectID, opts.EnabledOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	workflows := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow definitions: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadGraph(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflow_definitions
		WHERE id = $1
	`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
	}

	if err := r.loadGraph(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Save upserts the definition row and replaces its node and edge sets
// wholesale inside one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = transaction.Rollback()
	}()

	_, err = transaction.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, project_id, name, description, enabled, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id
		  , name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , enabled = EXCLUDED.enabled
		  , version = EXCLUDED.version
		  , updated_at = EXCLUDED.updated_at
	`, workflow.ID, workflow.ProjectID, workflow.Name, workflow.Description,
		workflow.Enabled, workflow.Version, workflow.CreatedBy, workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert workflow definition: %w", err)
	}

	// Replace-all semantics: edges first to respect the node references.
	if _, err := transaction.ExecContext(ctx, `DELETE FROM workflow_edges WHERE definition_id = $1`, workflow.ID); err != nil {
		return fmt.Errorf("failed to delete workflow edges: %w", err)
	}

	if _, err := transaction.ExecContext(ctx, `DELETE FROM workflow_nodes WHERE definition_id = $1`, workflow.ID); err != nil {
		return fmt.Errorf("failed to delete workflow nodes: %w", err)
	}

	for _, node := range workflow.Nodes {
		config, err := json.Marshal(node.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config for node %s: %w", node.ID, err)
		}

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO workflow_nodes (definition_id, id, node_type, name, config, position_x, position_y)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, node.ID, node.Type, node.Name, config, node.PositionX, node.PositionY)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
		}
	}

	for _, edge := range workflow.Edges {
		var condition []byte

		if edge.Condition != nil {
			condition, err = json.Marshal(edge.Condition)
			if err != nil {
				return fmt.Errorf("failed to encode condition for edge %s: %w", edge.ID, err)
			}
		}

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO workflow_edges (definition_id, id, source_id, target_id, condition, label, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, edge.ID, edge.SourceID, edge.TargetID, condition, edge.Label, edge.SortOrder)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s: %w", edge.ID, err)
		}
	}

	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow save: %w", err)
	}

	return nil
}

// Delete removes the definition; nodes, edges, executions and node
// executions follow through ON DELETE CASCADE.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow definition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflow(row interface{ Scan(...any) error }) (*models.WorkflowDefinition, error) {
	workflow := new(models.WorkflowDefinition)

	err := row.Scan(
		&workflow.ID,
		&workflow.ProjectID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Enabled,
		&workflow.Version,
		&workflow.CreatedBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) loadGraph(ctx context.Context, workflow *models.WorkflowDefinition) error {
	nodes, err := r.loadNodes(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to load nodes for workflow %s: %w", workflow.ID, err)
	}

	edges, err := r.loadEdges(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to load edges for workflow %s: %w", workflow.ID, err)
	}

	workflow.Nodes = nodes
	workflow.Edges = edges

	return nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, definitionID string) ([]*models.WorkflowNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, name, config, position_x, position_y
		FROM workflow_nodes
		WHERE definition_id = $1
		ORDER BY id
	`, definitionID)
	if err != nil {
		return nil, err
	}

	defer r.closeRows(ctx, rows)

	nodes := make([]*models.WorkflowNode, 0)

	for rows.Next() {
		node := &models.WorkflowNode{DefinitionID: definitionID}

		var config []byte

		if err := rows.Scan(&node.ID, &node.Type, &node.Name, &config, &node.PositionX, &node.PositionY); err != nil {
			return nil, err
		}

		if len(config) > 0 {
			if err := json.Unmarshal(config, &node.Config); err != nil {
				return nil, fmt.Errorf("failed to decode config for node %s: %w", node.ID, err)
			}
		}

		nodes = append(nodes, node)
	}

	return nodes, rows.Err()
}

func (r *WorkflowRepository) loadEdges(ctx context.Context, definitionID string) ([]*models.WorkflowEdge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, condition, label, sort_order
		FROM workflow_edges
		WHERE definition_id = $1
		ORDER BY sort_order, id
	`, definitionID)
	if err != nil {
		return nil, err
	}

	defer r.closeRows(ctx, rows)

	edges := make([]*models.WorkflowEdge, 0)

	for rows.Next() {
		edge := &models.WorkflowEdge{DefinitionID: definitionID}

		var condition []byte

		if err := rows.Scan(&edge.ID, &edge.SourceID, &edge.TargetID, &condition, &edge.Label, &edge.SortOrder); err != nil {
			return nil, err
		}

		if len(condition) > 0 {
			edge.Condition = new(models.EdgeCondition)
			if err := json.Unmarshal(condition, edge.Condition); err != nil {
				return nil, fmt.Errorf("failed to decode condition for edge %s: %w", edge.ID, err)
			}
		}

		edges = append(edges, edge)
	}

	return edges, rows.Err()
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
