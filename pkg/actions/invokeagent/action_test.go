package invokeagent

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/protocol"
)

type fakeAgentRegistry struct {
	lastAgentID string
	lastContext map[string]any
	result      *protocol.AgentResult
}

func (f *fakeAgentRegistry) Invoke(_ context.Context, agentID string, _ map[string]any, callContext map[string]any) (*protocol.AgentResult, error) {
	f.lastAgentID = agentID
	f.lastContext = callContext

	return f.result, nil
}

func TestExecuteInvokesAgent(t *testing.T) {
	t.Parallel()

	agents := &fakeAgentRegistry{result: &protocol.AgentResult{
		Success:    true,
		Output:     map[string]any{"summary": "two blockers"},
		DurationMs: 40,
	}}
	factory := NewActionFactory(agents)

	action, err := factory.Create(map[string]any{
		"agentId": "summarizer",
		"input":   map[string]any{"text": "..."},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ExecutionContext{
		ExecutionID: "x1",
		EntityType:  "task",
		EntityID:    "t1",
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "summarizer", agents.lastAgentID)
	assert.Equal(t, "x1", agents.lastContext["execution_id"])
	assert.Equal(t, true, output["success"])
	assert.Equal(t, map[string]any{"summary": "two blockers"}, output["output"])
}

func TestExecuteSkipsWithoutAgentID(t *testing.T) {
	t.Parallel()

	agents := &fakeAgentRegistry{}
	factory := NewActionFactory(agents)

	action, err := factory.Create(map[string]any{})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ExecutionContext{}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"skipped": true}, output)
	assert.Empty(t, agents.lastAgentID)
}

func TestExecuteReportsAgentFailure(t *testing.T) {
	t.Parallel()

	agents := &fakeAgentRegistry{result: &protocol.AgentResult{
		Success: false,
		Error:   "model timeout",
	}}
	factory := NewActionFactory(agents)

	action, err := factory.Create(map[string]any{"agentId": "summarizer"})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ExecutionContext{}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, false, output["success"])
	assert.Equal(t, "model timeout", output["error"])
}
