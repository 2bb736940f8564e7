package protocol

import (
	"context"
	"time"
)

// TaskService exposes the task CRUD subsystem to the engine: entity lookup
// for manual triggers and field mutation for update_field actions.
type TaskService interface {
	TaskByID(ctx context.Context, id string) (map[string]any, error)
	UpdateField(ctx context.Context, taskID, field string, value any) error
}

// ProjectService resolves project-level routing information, currently the
// responsible user for notification delivery. An empty user ID means no
// recipient could be resolved.
type ProjectService interface {
	ResponsibleUser(ctx context.Context, projectID string) (string, error)
}

// ActivityLog appends a human-readable activity line for an entity.
type ActivityLog interface {
	Append(ctx context.Context, entityType, entityID, message string) error
}

// NotificationService creates a notification for a user.
type NotificationService interface {
	Notify(ctx context.Context, userID, title, message string) error
}

// AgentResult is the outcome of one agent invocation.
type AgentResult struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// AgentRegistry invokes a registered agent capability with a resolved input.
type AgentRegistry interface {
	Invoke(ctx context.Context, agentID string, input map[string]any, callContext map[string]any) (*AgentResult, error)
}

// AuditRecord describes a finished execution for the immutable audit trail.
type AuditRecord struct {
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	Outcome   string         `json:"outcome"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditLog appends audit records. Append failures are swallowed by callers:
// auditing must never fail the execution it describes.
type AuditLog interface {
	Append(ctx context.Context, record AuditRecord) error
}
