// Package postgresql provides PostgreSQL persistence for workflow
// definitions and executions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer on PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence connects, runs pending migrations and returns the
// persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		workflowRepo:  NewWorkflowRepository(database, logger),
		executionRepo: NewExecutionRepository(database, logger),
	}, nil
}

func (p *Persistence) Workflows(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	return p.workflowRepo.List(ctx, opts)
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	return p.workflowRepo.Save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Delete(ctx, id)
}

func (p *Persistence) Executions(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	return p.executionRepo.List(ctx, opts)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return p.executionRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	return p.executionRepo.Save(ctx, execution)
}

func (p *Persistence) NodeExecutionsByExecutionID(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	return p.executionRepo.NodeExecutionsByExecutionID(ctx, executionID)
}

func (p *Persistence) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	return p.executionRepo.SaveNodeExecution(ctx, nodeExecution)
}

func (p *Persistence) TransitionNodeExecution(ctx context.Context, id string, from, to models.NodeExecutionStatus, output map[string]any) (bool, error) {
	return p.executionRepo.TransitionNodeExecution(ctx, id, from, to, output)
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
