package models

// ExecutionContext is the value handed to actions and the template resolver
// while a node executes. Entity is the snapshot of the triggering entity
// (nil for project-level triggers); NodeOutputs maps node IDs to their
// recorded output payloads.
type ExecutionContext struct {
	ExecutionID  string         `json:"execution_id"`
	DefinitionID string         `json:"definition_id"`
	EntityType   string         `json:"entity_type,omitempty"`
	EntityID     string         `json:"entity_id,omitempty"`
	Entity       map[string]any `json:"entity,omitempty"`
	NodeOutputs  map[string]any `json:"node_outputs,omitempty"`
}
