// Package models defines the core domain models for graph-based workflow automation.
package models

import (
	"sort"
	"time"
)

// NodeType is the closed set of node kinds the engine knows how to execute.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeCondition NodeType = "condition"
	NodeTypeAction    NodeType = "action"
	NodeTypeApproval  NodeType = "approval"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeAgent     NodeType = "agent"
)

// KnownNodeTypes lists every node type the engine dispatches on.
var KnownNodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeCondition,
	NodeTypeAction,
	NodeTypeApproval,
	NodeTypeDelay,
	NodeTypeAgent,
}

// WorkflowDefinition is a directed workflow graph together with its metadata.
// A nil ProjectID means the definition is global and applies to every project.
type WorkflowDefinition struct {
	ID          string          `json:"id"`
	ProjectID   *string         `json:"project_id,omitempty"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Enabled     bool            `json:"enabled"`
	Version     int             `json:"version"`
	Nodes       []*WorkflowNode `json:"nodes"`
	Edges       []*WorkflowEdge `json:"edges"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// WorkflowNode is a node instance in a definition graph. Config is an open
// key/value map interpreted per node type; position fields are carried for
// the UI and ignored by the engine.
type WorkflowNode struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Type         NodeType       `json:"type" validate:"required"`
	Name         string         `json:"name"`
	Config       map[string]any `json:"config"`
	PositionX    int            `json:"position_x"`
	PositionY    int            `json:"position_y"`
}

// EdgeCondition is a boolean expression attached to an edge. The simple
// language compares a single entity field against a literal value; the expr
// language evaluates a compiled expression against the entity snapshot.
type EdgeCondition struct {
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
	Language string `json:"language,omitempty"`

	Expression string `json:"expression,omitempty"`
}

// WorkflowEdge connects two nodes of the same definition. Label carries the
// "yes"/"no" branch marker used by condition nodes; SortOrder defines the
// deterministic visit order of sibling edges.
type WorkflowEdge struct {
	ID           string         `json:"id"        validate:"required"`
	DefinitionID string         `json:"definition_id"`
	SourceID     string         `json:"source_id" validate:"required"`
	TargetID     string         `json:"target_id" validate:"required"`
	Condition    *EdgeCondition `json:"condition,omitempty"`
	Label        string         `json:"label,omitempty"`
	SortOrder    int            `json:"sort_order"`
}

// FirstTriggerNode returns the first trigger-typed node of the definition,
// used by manual triggering.
func (w *WorkflowDefinition) FirstTriggerNode() *WorkflowNode {
	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			return node
		}
	}

	return nil
}

// NodeByID looks a node up within the definition graph.
func (w *WorkflowDefinition) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node ordered by
// SortOrder ascending. Order ties are broken by edge ID so the walk stays
// deterministic.
func (w *WorkflowDefinition) OutgoingEdges(nodeID string) []*WorkflowEdge {
	edges := make([]*WorkflowEdge, 0)

	for _, edge := range w.Edges {
		if edge.SourceID == nodeID {
			edges = append(edges, edge)
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].SortOrder != edges[j].SortOrder {
			return edges[i].SortOrder < edges[j].SortOrder
		}

		return edges[i].ID < edges[j].ID
	})

	return edges
}
