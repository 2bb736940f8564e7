// Package invokeagent implements the invoke_agent action: a single,
// non-retried call to a registered agent capability.
package invokeagent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/protocol"
)

type ActionFactory struct {
	agents protocol.AgentRegistry
}

func NewActionFactory(agents protocol.AgentRegistry) *ActionFactory {
	return &ActionFactory{agents: agents}
}

func (*ActionFactory) ID() string {
	return "invoke_agent"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agentId": map[string]any{
				"type":        "string",
				"description": "Registered agent capability to invoke.",
			},
			"input": map[string]any{
				"type":        "object",
				"description": "Input payload. Supports templates.",
			},
		},
		"required": []any{"agentId"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return &InvokeAgentAction{agents: f.agents, config: config}, nil
}

type InvokeAgentAction struct {
	agents protocol.AgentRegistry
	config map[string]any
}

func (a *InvokeAgentAction) Execute(ctx context.Context, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "invoke_agent")

	agentID, _ := a.config["agentId"].(string)
	if agentID == "" {
		logger.InfoContext(ctx, "No agentId configured, skipping")

		return map[string]any{"skipped": true}, nil
	}

	input, _ := a.config["input"].(map[string]any)

	result, err := a.agents.Invoke(ctx, agentID, input, map[string]any{
		"execution_id": ectx.ExecutionID,
		"entity_type":  ectx.EntityType,
		"entity_id":    ectx.EntityID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke agent %s: %w", agentID, err)
	}

	logger.InfoContext(ctx, "Agent invoked", "agent_id", agentID, "success", result.Success, "duration_ms", result.DurationMs)

	return map[string]any{
		"success": result.Success,
		"output":  result.Output,
		"error":   result.Error,
	}, nil
}
