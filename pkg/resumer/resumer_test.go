package resumer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence/file"
	"github.com/taskforge/taskforge/pkg/registry"
	"github.com/taskforge/taskforge/pkg/workflow"
)

func delayDefinition(durationMs int) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:      "def-1",
		Name:    "delayed flow",
		Enabled: true,
		Version: 1,
		Nodes: []*models.WorkflowNode{
			{ID: "n1", Type: models.NodeTypeTrigger, Config: map[string]any{"triggerType": "manual"}},
			{ID: "n2", Type: models.NodeTypeDelay, Config: map[string]any{"durationMs": durationMs}},
		},
		Edges: []*models.WorkflowEdge{
			{ID: "e1", SourceID: "n1", TargetID: "n2"},
		},
	}
}

func TestScanResumesElapsedDelay(t *testing.T) {
	t.Parallel()

	logger := slog.Default()
	store := file.NewFilePersistence(t.TempDir())
	engine := workflow.NewEngine(store, registry.NewRegistry(logger), workflow.Collaborators{}, nil, logger, nil)
	resumer := NewResumer(store, engine, logger)

	definition := delayDefinition(0)
	require.NoError(t, store.SaveWorkflow(context.Background(), definition))

	execution, err := engine.StartRun(context.Background(), definition, definition.Nodes[0], "task", "t1", nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusWaiting, execution.Status)

	resumed, err := resumer.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	final, err := store.ExecutionByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, map[string]any{"resumed_by": "scheduler"}, final.Context[models.ContextKeyNodeOutputs].(map[string]any)["n2"])

	// Nothing left to resume.
	resumed, err = resumer.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestScanSkipsFutureDelays(t *testing.T) {
	t.Parallel()

	logger := slog.Default()
	store := file.NewFilePersistence(t.TempDir())
	engine := workflow.NewEngine(store, registry.NewRegistry(logger), workflow.Collaborators{}, nil, logger, nil)
	resumer := NewResumer(store, engine, logger)

	definition := delayDefinition(60 * 60 * 1000)
	require.NoError(t, store.SaveWorkflow(context.Background(), definition))

	execution, err := engine.StartRun(context.Background(), definition, definition.Nodes[0], "task", "t1", nil)
	require.NoError(t, err)

	resumed, err := resumer.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resumed)

	still, err := store.ExecutionByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, still.Status)
}

func TestScanIgnoresApprovalNodes(t *testing.T) {
	t.Parallel()

	logger := slog.Default()
	store := file.NewFilePersistence(t.TempDir())
	engine := workflow.NewEngine(store, registry.NewRegistry(logger), workflow.Collaborators{}, nil, logger, nil)
	resumer := NewResumer(store, engine, logger)

	definition := delayDefinition(0)
	definition.Nodes[1].Type = models.NodeTypeApproval
	definition.Nodes[1].Config = map[string]any{}
	require.NoError(t, store.SaveWorkflow(context.Background(), definition))

	_, err := engine.StartRun(context.Background(), definition, definition.Nodes[0], "task", "t1", nil)
	require.NoError(t, err)

	resumed, err := resumer.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resumed)
}
