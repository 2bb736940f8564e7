// Package events defines the event types flowing through the automation bus:
// domain intake events from the task and project subsystems and lifecycle
// notifications emitted by the execution engine.
package events

import (
	"time"
)

type EventType string

const Topic = "taskforge.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Domain intake events.
	TaskChangedEvent    EventType = "task.changed"
	ProjectChangedEvent EventType = "project.changed"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
)

// Project-level change types carried by ProjectChanged.
const (
	ProjectChangeBudgetUpdate = "budget_update"
	ProjectChangeStatusChange = "project_status_change"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskChanged is published after every task write. OldTask is nil when the
// task was just created.
type TaskChanged struct {
	BaseEvent

	Task    map[string]any `json:"task"`
	OldTask map[string]any `json:"old_task,omitempty"`
}

func (e TaskChanged) GetType() EventType {
	return TaskChangedEvent
}

// ProjectChanged is published for project-level events such as budget
// updates and status transitions.
type ProjectChanged struct {
	BaseEvent

	ProjectID  string         `json:"project_id"`
	ChangeType string         `json:"change_type"`
	Data       map[string]any `json:"data,omitempty"`
}

func (e ProjectChanged) GetType() EventType {
	return ProjectChangedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	DefinitionID string `json:"definition_id"`
	EntityID     string `json:"entity_id,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	DefinitionID string `json:"definition_id"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	DefinitionID string `json:"definition_id"`
	Error        string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionPaused is emitted when a run suspends on an approval or delay
// node.
type ExecutionPaused struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}
