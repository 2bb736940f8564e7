// Package file provides JSON-file based persistence, used for local
// development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
)

const (
	workflowsDir      = "workflows"
	executionsDir     = "executions"
	nodeExecutionsDir = "node_executions"

	dirPerm  = 0o755
	filePerm = 0o644
)

// FilePersistence stores every aggregate as one JSON document under root.
// A single mutex serializes access; the file backend trades throughput for
// having zero external dependencies.
type FilePersistence struct {
	root string
	mu   sync.RWMutex
}

func NewFilePersistence(root string) *FilePersistence {
	return &FilePersistence{root: root}
}

func (p *FilePersistence) Workflows(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.WorkflowDefinition, 0)

	err := p.eachDocument(workflowsDir, func(data []byte) error {
		workflow := new(models.WorkflowDefinition)
		if err := json.Unmarshal(data, workflow); err != nil {
			return fmt.Errorf("failed to decode workflow: %w", err)
		}

		if opts.EnabledOnly && !workflow.Enabled {
			return nil
		}

		if opts.ProjectID != nil && workflow.ProjectID != nil && *workflow.ProjectID != *opts.ProjectID {
			return nil
		}

		workflows = append(workflows, workflow)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *FilePersistence) WorkflowByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow := new(models.WorkflowDefinition)
	if err := p.readDocument(workflowsDir, id, workflow); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, err
	}

	return workflow, nil
}

func (p *FilePersistence) SaveWorkflow(ctx context.Context, workflow *models.WorkflowDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeDocument(workflowsDir, workflow.ID, workflow)
}

func (p *FilePersistence) DeleteWorkflow(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.documentPath(workflowsDir, id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.ErrWorkflowNotFound
		}

		return err
	}

	// Cascade: historical executions and their node executions go with the
	// definition.
	executionIDs := make([]string, 0)

	err := p.eachDocument(executionsDir, func(data []byte) error {
		execution := new(models.WorkflowExecution)
		if err := json.Unmarshal(data, execution); err != nil {
			return fmt.Errorf("failed to decode execution: %w", err)
		}

		if execution.DefinitionID == id {
			executionIDs = append(executionIDs, execution.ID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, executionID := range executionIDs {
		if err := p.deleteNodeExecutions(executionID); err != nil {
			return err
		}

		if err := os.Remove(p.documentPath(executionsDir, executionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete execution %s: %w", executionID, err)
		}
	}

	return os.Remove(path)
}

func (p *FilePersistence) Executions(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	err := p.eachDocument(executionsDir, func(data []byte) error {
		execution := new(models.WorkflowExecution)
		if err := json.Unmarshal(data, execution); err != nil {
			return fmt.Errorf("failed to decode execution: %w", err)
		}

		if opts.DefinitionID != "" && execution.DefinitionID != opts.DefinitionID {
			return nil
		}

		if opts.EntityID != "" && execution.EntityID != opts.EntityID {
			return nil
		}

		if opts.Status != nil && execution.Status != *opts.Status {
			return nil
		}

		executions = append(executions, execution)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (p *FilePersistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution := new(models.WorkflowExecution)
	if err := p.readDocument(executionsDir, id, execution); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	return execution, nil
}

func (p *FilePersistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeDocument(executionsDir, execution.ID, execution)
}

func (p *FilePersistence) NodeExecutionsByExecutionID(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nodeExecutions := make([]*models.NodeExecution, 0)

	err := p.eachDocument(nodeExecutionsDir, func(data []byte) error {
		nodeExecution := new(models.NodeExecution)
		if err := json.Unmarshal(data, nodeExecution); err != nil {
			return fmt.Errorf("failed to decode node execution: %w", err)
		}

		if nodeExecution.ExecutionID == executionID {
			nodeExecutions = append(nodeExecutions, nodeExecution)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(nodeExecutions, func(i, j int) bool {
		return nodeExecutions[i].StartedAt.Before(nodeExecutions[j].StartedAt)
	})

	return nodeExecutions, nil
}

func (p *FilePersistence) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.writeDocument(nodeExecutionsDir, nodeExecution.ID, nodeExecution)
}

func (p *FilePersistence) TransitionNodeExecution(ctx context.Context, id string, from, to models.NodeExecutionStatus, output map[string]any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nodeExecution := new(models.NodeExecution)
	if err := p.readDocument(nodeExecutionsDir, id, nodeExecution); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, persistence.ErrNodeExecutionNotFound
		}

		return false, err
	}

	if nodeExecution.Status != from {
		return false, nil
	}

	nodeExecution.Status = to
	if output != nil {
		nodeExecution.Output = output
	}

	if to.Terminal() {
		now := time.Now().UTC()
		nodeExecution.CompletedAt = &now
	}

	if err := p.writeDocument(nodeExecutionsDir, id, nodeExecution); err != nil {
		return false, err
	}

	return true, nil
}

func (p *FilePersistence) HealthCheck(ctx context.Context) error {
	if err := os.MkdirAll(p.root, dirPerm); err != nil {
		return fmt.Errorf("persistence root %s is not writable: %w", p.root, err)
	}

	return nil
}

func (p *FilePersistence) Close(ctx context.Context) error {
	return nil
}

func (p *FilePersistence) deleteNodeExecutions(executionID string) error {
	ids := make([]string, 0)

	err := p.eachDocument(nodeExecutionsDir, func(data []byte) error {
		nodeExecution := new(models.NodeExecution)
		if err := json.Unmarshal(data, nodeExecution); err != nil {
			return fmt.Errorf("failed to decode node execution: %w", err)
		}

		if nodeExecution.ExecutionID == executionID {
			ids = append(ids, nodeExecution.ID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := os.Remove(p.documentPath(nodeExecutionsDir, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete node execution %s: %w", id, err)
		}
	}

	return nil
}

func (p *FilePersistence) eachDocument(dir string, fn func(data []byte) error) error {
	pattern := filepath.Join(p.root, dir, "*.json")

	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		if err := fn(data); err != nil {
			return err
		}
	}

	return nil
}

func (p *FilePersistence) documentPath(dir, id string) string {
	return filepath.Join(p.root, dir, id+".json")
}

func (p *FilePersistence) readDocument(dir, id string, target any) error {
	data, err := os.ReadFile(p.documentPath(dir, id))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, target)
}

func (p *FilePersistence) writeDocument(dir, id string, source any) error {
	if err := os.MkdirAll(filepath.Join(p.root, dir), dirPerm); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(source, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}

	return os.WriteFile(p.documentPath(dir, id), data, filePerm)
}
