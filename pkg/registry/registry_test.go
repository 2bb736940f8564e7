package registry

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/protocol"
)

type stubAction struct{}

func (stubAction) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

type stubFactory struct{}

func (stubFactory) ID() string { return "stub" }

func (stubFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	}
}

func (stubFactory) Create(_ map[string]any) (protocol.Action, error) {
	return stubAction{}, nil
}

func newTestRegistry() *Registry {
	r := NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	r.RegisterAction(stubFactory{})

	return r
}

func TestRegistry_CreateAction(t *testing.T) {
	r := newTestRegistry()

	action, err := r.CreateAction("stub", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.NotNil(t, action)

	_, err = r.CreateAction("unknown", nil)
	assert.Error(t, err)
}

func TestRegistry_ValidateActionConfig(t *testing.T) {
	r := newTestRegistry()

	assert.NoError(t, r.ValidateActionConfig("stub", map[string]any{"message": "hi"}))

	err := r.ValidateActionConfig("stub", map[string]any{})
	assert.Error(t, err)

	// Unknown action types are accepted; the engine skips them at runtime.
	assert.NoError(t, r.ValidateActionConfig("unknown", nil))
}

func TestRegistry_HealthCheck(t *testing.T) {
	empty := NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	_, ok := empty.HealthCheck()
	assert.False(t, ok)

	_, ok = newTestRegistry().HealthCheck()
	assert.True(t, ok)
}
