package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution. The
// completed, failed and cancelled states are terminal.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status allows no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// NodeExecutionStatus is the lifecycle state of one node within an execution.
type NodeExecutionStatus string

const (
	NodeExecutionStatusPending   NodeExecutionStatus = "pending"
	NodeExecutionStatusRunning   NodeExecutionStatus = "running"
	NodeExecutionStatusCompleted NodeExecutionStatus = "completed"
	NodeExecutionStatusFailed    NodeExecutionStatus = "failed"
	NodeExecutionStatusSkipped   NodeExecutionStatus = "skipped"
	NodeExecutionStatusWaiting   NodeExecutionStatus = "waiting"
)

// Terminal reports whether the node status allows no further transitions.
// A waiting node is not terminal: it completes through an explicit resume.
func (s NodeExecutionStatus) Terminal() bool {
	return s == NodeExecutionStatusCompleted || s == NodeExecutionStatusFailed || s == NodeExecutionStatusSkipped
}

// ContextKeyNodeOutputs is the execution context key holding the map from
// node ID to that node's recorded output payload.
const ContextKeyNodeOutputs = "node_outputs"

// WorkflowExecution is one run of a definition graph for a specific
// triggering event. It is created at trigger time and mutated only by the
// execution engine.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	DefinitionID  string          `json:"definition_id"`
	TriggerNodeID string          `json:"trigger_node_id"`
	EntityType    string          `json:"entity_type,omitempty"`
	EntityID      string          `json:"entity_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Context       map[string]any  `json:"context,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// NodeOutputs returns the per-node output map stored in the execution
// context, allocating it on first use.
func (e *WorkflowExecution) NodeOutputs() map[string]any {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}

	outputs, ok := e.Context[ContextKeyNodeOutputs].(map[string]any)
	if !ok {
		outputs = make(map[string]any)
		e.Context[ContextKeyNodeOutputs] = outputs
	}

	return outputs
}

// NodeExecution records the state of a single node within one execution.
type NodeExecution struct {
	ID          string              `json:"id"`
	ExecutionID string              `json:"execution_id"`
	NodeID      string              `json:"node_id"`
	Status      NodeExecutionStatus `json:"status"`
	Input       map[string]any      `json:"input,omitempty"`
	Output      map[string]any      `json:"output,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}
