package web

import (
	"github.com/taskforge/taskforge/pkg/models"
)

// CreateWorkflowRequest carries a full definition graph for creation.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Description string                  `json:"description"`
	ProjectID   *string                 `json:"project_id"`
	Enabled     bool                    `json:"enabled"`
	CreatedBy   string                  `json:"created_by"`
	Nodes       []*models.WorkflowNode  `json:"nodes"`
	Edges       []*models.WorkflowEdge  `json:"edges"`
}

// UpdateWorkflowRequest replaces the definition's metadata and graph. Nodes
// and edges not present are removed.
type UpdateWorkflowRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Description string                  `json:"description"`
	ProjectID   *string                 `json:"project_id"`
	Enabled     bool                    `json:"enabled"`
	Nodes       []*models.WorkflowNode  `json:"nodes"`
	Edges       []*models.WorkflowEdge  `json:"edges"`
}

// SetEnabledRequest toggles trigger matching for a definition.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// TriggerRequest starts a manual run against an entity.
type TriggerRequest struct {
	EntityType string `json:"entity_type" validate:"required,oneof=task project"`
	EntityID   string `json:"entity_id"`
}

// ResumeRequest completes a waiting node of a suspended run.
type ResumeRequest struct {
	NodeID string         `json:"node_id" validate:"required"`
	Result map[string]any `json:"result"`
}

// TaskChangeRequest is the intake payload published after a task write.
// OldTask is absent when the task was just created.
type TaskChangeRequest struct {
	Task    map[string]any `json:"task"     validate:"required"`
	OldTask map[string]any `json:"old_task"`
}

// ProjectChangeRequest is the intake payload for project-level events.
type ProjectChangeRequest struct {
	ProjectID  string         `json:"project_id"  validate:"required"`
	ChangeType string         `json:"change_type" validate:"required"`
	Data       map[string]any `json:"data"`
}
