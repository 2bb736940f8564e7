package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/registry"
)

// ErrWorkflowNotFound is returned when a definition is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Workflow manages workflow definitions: structural validation, versioned
// persistence and the enabled flag the trigger matcher respects.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
}

func NewWorkflow(p persistence.Persistence, r *registry.Registry) *Workflow {
	return &Workflow{
		persistence: p,
		registry:    r,
		validator:   validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing definitions.
type ListWorkflowsRequest struct {
	ProjectID   *string
	EnabledOnly bool
}

// ListWorkflows retrieves definitions, optionally scoped to a project.
// Project scoping returns both global definitions and the project's own.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.WorkflowDefinition, error) {
	definitions, err := w.persistence.Workflows(ctx, persistence.ListWorkflowsOptions{
		ProjectID:   req.ProjectID,
		EnabledOnly: req.EnabledOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return definitions, nil
}

// FetchWorkflow retrieves a single definition with its full graph.
func (w *Workflow) FetchWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	if id == "" {
		return nil, NewValidationError("FetchWorkflow", "id is required", ErrInvalidRequest)
	}

	return w.persistence.WorkflowByID(ctx, id)
}

// CreateWorkflow validates and persists a new definition at version 1.
// Node and edge IDs are assigned when absent.
func (w *Workflow) CreateWorkflow(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, NewValidationError("CreateWorkflow", "definition is required", ErrDefinitionNil)
	}

	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	definition.Version = 1
	definition.CreatedAt = now
	definition.UpdatedAt = now

	w.assignGraphIDs(definition)

	if err := w.validateDefinition("CreateWorkflow", definition); err != nil {
		return nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to create definition: %w", err)
	}

	return definition, nil
}

// UpdateWorkflow replaces a definition's metadata and full graph. The stored
// version is incremented; nodes and edges not present in the update are
// removed.
func (w *Workflow) UpdateWorkflow(ctx context.Context, id string, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if definition == nil {
		return nil, NewValidationError("UpdateWorkflow", "definition is required", ErrDefinitionNil)
	}

	current, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	definition.ID = current.ID
	definition.Version = current.Version + 1
	definition.CreatedBy = current.CreatedBy
	definition.CreatedAt = current.CreatedAt
	definition.UpdatedAt = time.Now().UTC()

	w.assignGraphIDs(definition)

	if err := w.validateDefinition("UpdateWorkflow", definition); err != nil {
		return nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return definition, nil
}

// DeleteWorkflow removes a definition and cascades to its graph.
func (w *Workflow) DeleteWorkflow(ctx context.Context, id string) error {
	if id == "" {
		return NewValidationError("DeleteWorkflow", "id is required", ErrInvalidRequest)
	}

	return w.persistence.DeleteWorkflow(ctx, id)
}

// SetEnabled toggles whether the definition participates in trigger
// matching. Disabling never touches in-flight runs.
func (w *Workflow) SetEnabled(ctx context.Context, id string, enabled bool) (*models.WorkflowDefinition, error) {
	definition, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if definition.Enabled == enabled {
		return definition, nil
	}

	definition.Enabled = enabled
	definition.UpdatedAt = time.Now().UTC()

	if err := w.persistence.SaveWorkflow(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to update definition: %w", err)
	}

	return definition, nil
}

func (w *Workflow) assignGraphIDs(definition *models.WorkflowDefinition) {
	for _, node := range definition.Nodes {
		if node.ID == "" {
			node.ID = uuid.New().String()
		}

		node.DefinitionID = definition.ID
	}

	for _, edge := range definition.Edges {
		if edge.ID == "" {
			edge.ID = uuid.New().String()
		}

		edge.DefinitionID = definition.ID
	}
}

// validateDefinition runs struct tags plus the graph checks: node IDs
// unique, node types known, edges staying inside the definition, and action
// configurations passing their registered schema.
func (w *Workflow) validateDefinition(op string, definition *models.WorkflowDefinition) error {
	if err := w.validator.Struct(definition); err != nil {
		return NewValidationError(op, err.Error(), ErrInvalidRequest)
	}

	nodeIDs := make(map[string]bool, len(definition.Nodes))

	for _, node := range definition.Nodes {
		if node.ID == "" {
			return NewValidationError(op, "node id is required", ErrNodeIDRequired)
		}

		if nodeIDs[node.ID] {
			return NewValidationError(op, fmt.Sprintf("node id %q appears more than once", node.ID), ErrDuplicateNodeID)
		}

		nodeIDs[node.ID] = true

		if !slices.Contains(models.KnownNodeTypes, node.Type) {
			return NewValidationError(op, fmt.Sprintf("node %s has unknown type %q", node.ID, node.Type), ErrUnknownNodeType)
		}

		if node.Type == models.NodeTypeAction && w.registry != nil {
			actionType, _ := node.Config["actionType"].(string)
			if err := w.registry.ValidateActionConfig(actionType, node.Config); err != nil {
				return NewValidationError(op, fmt.Sprintf("node %s: %v", node.ID, err), ErrInvalidActionConfig)
			}
		}
	}

	for _, edge := range definition.Edges {
		if !nodeIDs[edge.SourceID] {
			return NewValidationError(op, fmt.Sprintf("edge %s source %q is not a node of this definition", edge.ID, edge.SourceID), ErrEdgeNodeMissing)
		}

		if !nodeIDs[edge.TargetID] {
			return NewValidationError(op, fmt.Sprintf("edge %s target %q is not a node of this definition", edge.ID, edge.TargetID), ErrEdgeNodeMissing)
		}
	}

	return nil
}
