package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/persistence/file"
	"github.com/taskforge/taskforge/pkg/protocol"
	"github.com/taskforge/taskforge/pkg/registry"
)

type recordingAction struct {
	calls  *[]string
	id     string
	output map[string]any
	err    error
}

func (a *recordingAction) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (map[string]any, error) {
	*a.calls = append(*a.calls, a.id)

	if a.err != nil {
		return nil, a.err
	}

	if a.output != nil {
		return a.output, nil
	}

	return map[string]any{"ran": a.id}, nil
}

type recordingFactory struct {
	calls   *[]string
	outputs map[string]map[string]any
	errs    map[string]error
}

func (f *recordingFactory) ID() string { return "record" }

func (f *recordingFactory) Schema() map[string]any { return map[string]any{"type": "object"} }

func (f *recordingFactory) Create(config map[string]any) (protocol.Action, error) {
	id, _ := config["label"].(string)

	return &recordingAction{calls: f.calls, id: id, output: f.outputs[id], err: f.errs[id]}, nil
}

type stubTaskService struct {
	tasks map[string]map[string]any
}

func (s *stubTaskService) TaskByID(_ context.Context, id string) (map[string]any, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}

	return task, nil
}

func (s *stubTaskService) UpdateField(_ context.Context, taskID, field string, value any) error {
	if s.tasks[taskID] != nil {
		s.tasks[taskID][field] = value
	}

	return nil
}

type stubAgentRegistry struct {
	failures int
	calls    int
}

func (s *stubAgentRegistry) Invoke(_ context.Context, agentID string, _ map[string]any, _ map[string]any) (*protocol.AgentResult, error) {
	s.calls++

	if s.calls <= s.failures {
		return nil, errors.New("agent unavailable")
	}

	return &protocol.AgentResult{Success: true, Output: map[string]any{"agent": agentID}, DurationMs: 5}, nil
}

type stubAuditLog struct {
	records []protocol.AuditRecord
}

func (s *stubAuditLog) Append(_ context.Context, record protocol.AuditRecord) error {
	s.records = append(s.records, record)

	return nil
}

type engineFixture struct {
	engine      *Engine
	persistence persistence.Persistence
	calls       *[]string
	factory     *recordingFactory
	tasks       *stubTaskService
	agents      *stubAgentRegistry
	audit       *stubAuditLog
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.Default()
	calls := &[]string{}
	factory := &recordingFactory{calls: calls, outputs: map[string]map[string]any{}, errs: map[string]error{}}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(factory)

	tasks := &stubTaskService{tasks: map[string]map[string]any{}}
	agents := &stubAgentRegistry{}
	audit := &stubAuditLog{}
	store := file.NewFilePersistence(t.TempDir())

	engine := NewEngine(store, reg, Collaborators{Tasks: tasks, Agents: agents, Audit: audit}, nil, logger, nil)

	return &engineFixture{
		engine:      engine,
		persistence: store,
		calls:       calls,
		factory:     factory,
		tasks:       tasks,
		agents:      agents,
		audit:       audit,
	}
}

func actionNode(id, label string) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:     id,
		Type:   models.NodeTypeAction,
		Name:   label,
		Config: map[string]any{"actionType": "record", "label": label},
	}
}

func edge(id, source, target string, sortOrder int) *models.WorkflowEdge {
	return &models.WorkflowEdge{ID: id, SourceID: source, TargetID: target, SortOrder: sortOrder}
}

func definitionWith(nodes []*models.WorkflowNode, edges []*models.WorkflowEdge) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:      "def-1",
		Name:    "test definition",
		Enabled: true,
		Version: 1,
		Nodes:   nodes,
		Edges:   edges,
	}
}

func trigger(id string) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: models.NodeTypeTrigger, Config: map[string]any{"triggerType": "manual"}}
}

func (f *engineFixture) saveDefinition(t *testing.T, definition *models.WorkflowDefinition) {
	t.Helper()
	require.NoError(t, f.persistence.SaveWorkflow(context.Background(), definition))
}

func (f *engineFixture) start(t *testing.T, definition *models.WorkflowDefinition) *models.WorkflowExecution {
	t.Helper()

	execution, err := f.engine.StartRun(context.Background(), definition, definition.FirstTriggerNode(), "task", "t1", f.tasks.tasks["t1"])
	require.NoError(t, err)

	return execution
}

func TestStartRunLinearChainCompletes(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "a"), actionNode("n3", "b")},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0), edge("e2", "n2", "n3", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"a", "b"}, *f.calls)
	require.NotNil(t, execution.CompletedAt)

	outputs := execution.NodeOutputs()
	assert.Equal(t, map[string]any{"ran": "a"}, outputs["n2"])
	assert.Equal(t, map[string]any{"ran": "b"}, outputs["n3"])
}

func TestStartRunDeterministicEdgeOrder(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	// Edges declared out of order; sortOrder then edge ID decides.
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "second"), actionNode("n3", "first"), actionNode("n4", "third")},
		[]*models.WorkflowEdge{
			edge("e-b", "n1", "n2", 1),
			edge("e-a", "n1", "n3", 0),
			edge("e-c", "n1", "n4", 1),
		},
	)
	f.saveDefinition(t, definition)

	f.start(t, definition)

	assert.Equal(t, []string{"first", "second", "third"}, *f.calls)
}

func TestStartRunCycleFailsRun(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "a"), actionNode("n3", "b")},
		[]*models.WorkflowEdge{
			edge("e1", "n1", "n2", 0),
			edge("e2", "n2", "n3", 0),
			edge("e3", "n3", "n2", 0),
		},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "cycle")
}

func TestConditionNodeBranchExclusivity(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.tasks.tasks["t1"] = map[string]any{"id": "t1", "status": "done"}

	conditionNode := &models.WorkflowNode{
		ID:   "n2",
		Type: models.NodeTypeCondition,
		Config: map[string]any{
			"field":    "status",
			"operator": "equals",
			"value":    "done",
		},
	}

	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), conditionNode, actionNode("n3", "yes-branch"), actionNode("n4", "no-branch")},
		[]*models.WorkflowEdge{
			edge("e1", "n1", "n2", 0),
			{ID: "e2", SourceID: "n2", TargetID: "n3", Label: "yes", SortOrder: 0},
			{ID: "e3", SourceID: "n2", TargetID: "n4", Label: "no", SortOrder: 1},
		},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"yes-branch"}, *f.calls)
	assert.Equal(t, map[string]any{"result": true}, execution.NodeOutputs()["n2"])

	// The untaken branch remains pending-free: no node execution row exists.
	nodeExecutions, err := f.persistence.NodeExecutionsByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)

	for _, nodeExecution := range nodeExecutions {
		assert.NotEqual(t, "n4", nodeExecution.NodeID)
	}
}

func TestConditionNodeFalseTakesNoBranch(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.tasks.tasks["t1"] = map[string]any{"id": "t1", "status": "todo"}

	conditionNode := &models.WorkflowNode{
		ID:     "n2",
		Type:   models.NodeTypeCondition,
		Config: map[string]any{"field": "status", "operator": "equals", "value": "done"},
	}

	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), conditionNode, actionNode("n3", "yes-branch"), actionNode("n4", "no-branch")},
		[]*models.WorkflowEdge{
			edge("e1", "n1", "n2", 0),
			{ID: "e2", SourceID: "n2", TargetID: "n3", Label: "yes", SortOrder: 0},
			{ID: "e3", SourceID: "n2", TargetID: "n4", Label: "no", SortOrder: 1},
		},
	)
	f.saveDefinition(t, definition)

	f.start(t, definition)

	assert.Equal(t, []string{"no-branch"}, *f.calls)
}

func TestUnknownActionTypeSkips(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	unknown := &models.WorkflowNode{
		ID:     "n2",
		Type:   models.NodeTypeAction,
		Config: map[string]any{"actionType": "does_not_exist"},
	}
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), unknown, actionNode("n3", "after")},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0), edge("e2", "n2", "n3", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"skipped": true}, execution.NodeOutputs()["n2"])
	assert.Equal(t, []string{"after"}, *f.calls)
}

func TestActionErrorFailsRun(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.factory.errs["boom"] = errors.New("downstream unavailable")

	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "boom"), actionNode("n3", "never")},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0), edge("e2", "n2", "n3", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.Error, "downstream unavailable")
	assert.Equal(t, []string{"boom"}, *f.calls)

	require.Len(t, f.audit.records, 1)
	assert.Equal(t, "failed", f.audit.records[0].Outcome)
}

func TestAgentNodeRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.agents.failures = 2

	agentNode := &models.WorkflowNode{
		ID:   "n2",
		Type: models.NodeTypeAgent,
		Config: map[string]any{
			"agentId":   "summarizer",
			"retries":   2,
			"backoffMs": 1,
		},
	}
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), agentNode},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 3, f.agents.calls)

	output, ok := execution.NodeOutputs()["n2"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"agent": "summarizer"}, output["agentOutput"])
}

func TestAgentNodeExhaustsRetries(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.agents.failures = 10

	agentNode := &models.WorkflowNode{
		ID:   "n2",
		Type: models.NodeTypeAgent,
		Config: map[string]any{
			"agentId":   "summarizer",
			"retries":   1,
			"backoffMs": 1,
		},
	}
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), agentNode},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 2, f.agents.calls)
	assert.Contains(t, execution.Error, "after 2 attempts")
}

func TestApprovalSuspendAndResume(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	approvalNode := &models.WorkflowNode{ID: "n2", Type: models.NodeTypeApproval, Config: map[string]any{}}

	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), approvalNode, actionNode("n3", "after-approval")},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0), edge("e2", "n2", "n3", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusWaiting, execution.Status)
	assert.Empty(t, *f.calls)

	resumed, err := f.engine.Resume(context.Background(), execution.ID, "n2", map[string]any{"approved": true})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"after-approval"}, *f.calls)
	assert.Equal(t, map[string]any{"approved": true}, resumed.NodeOutputs()["n2"])

	// Second resume of the same node is a no-op.
	again, err := f.engine.Resume(context.Background(), execution.ID, "n2", map[string]any{"approved": false})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, again.Status)
	assert.Equal(t, []string{"after-approval"}, *f.calls)
}

func TestDelaySuspensionRecordsResumeAt(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	delayNode := &models.WorkflowNode{
		ID:     "n2",
		Type:   models.NodeTypeDelay,
		Config: map[string]any{"durationMs": 60000},
	}
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), delayNode},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)

	assert.Equal(t, models.ExecutionStatusWaiting, execution.Status)

	nodeExecutions, err := f.persistence.NodeExecutionsByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)

	var waiting *models.NodeExecution

	for _, nodeExecution := range nodeExecutions {
		if nodeExecution.NodeID == "n2" {
			waiting = nodeExecution
		}
	}

	require.NotNil(t, waiting)
	assert.Equal(t, models.NodeExecutionStatusWaiting, waiting.Status)
	assert.NotEmpty(t, waiting.Input["resume_at"])
}

func TestResumeNonWaitingExecutionIsNoOp(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "a")},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	resumed, err := f.engine.Resume(context.Background(), execution.ID, "n2", nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, resumed.Status)
	assert.Equal(t, []string{"a"}, *f.calls)
}

func TestTemplateResolutionAcrossNodes(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.tasks.tasks["t1"] = map[string]any{"id": "t1", "title": "Fix login"}
	f.factory.outputs["producer"] = map[string]any{"summary": "two failures"}

	consumer := &models.WorkflowNode{
		ID:   "n3",
		Type: models.NodeTypeAction,
		Config: map[string]any{
			"actionType": "record",
			"label":      "consumer",
			"message":    "Task {{task.title}}: {{nodes.n2.summary}}",
		},
	}
	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "producer"), consumer},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0), edge("e2", "n2", "n3", 0)},
	)
	f.saveDefinition(t, definition)

	execution := f.start(t, definition)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	nodeExecutions, err := f.persistence.NodeExecutionsByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)

	var consumerInput map[string]any

	for _, nodeExecution := range nodeExecutions {
		if nodeExecution.NodeID == "n3" {
			consumerInput = nodeExecution.Input
		}
	}

	require.NotNil(t, consumerInput)
	assert.Equal(t, "Task Fix login: two failures", consumerInput["message"])
}

func TestEvaluateTaskChangeStartsMatchingRuns(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	matching := definitionWith(
		[]*models.WorkflowNode{
			{ID: "n1", Type: models.NodeTypeTrigger, Config: map[string]any{"triggerType": "status_change", "toStatus": "done"}},
			actionNode("n2", "on-done"),
		},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, matching)

	disabled := definitionWith(
		[]*models.WorkflowNode{
			{ID: "n1", Type: models.NodeTypeTrigger, Config: map[string]any{"triggerType": "status_change"}},
			actionNode("n2", "disabled"),
		},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	disabled.ID = "def-2"
	disabled.Enabled = false
	f.saveDefinition(t, disabled)

	newTask := map[string]any{"id": "t1", "status": "done"}
	oldTask := map[string]any{"id": "t1", "status": "review"}

	f.engine.EvaluateTaskChange(context.Background(), newTask, oldTask)

	assert.Equal(t, []string{"on-done"}, *f.calls)

	executions, err := f.persistence.Executions(context.Background(), persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "def-1", executions[0].DefinitionID)
	assert.Equal(t, "t1", executions[0].EntityID)
}

func TestEvaluateProjectChangeBudgetThreshold(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)

	definition := definitionWith(
		[]*models.WorkflowNode{
			{ID: "n1", Type: models.NodeTypeTrigger, Config: map[string]any{"triggerType": "budget_threshold", "threshold": 90.0}},
			actionNode("n2", "over-budget"),
		},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, definition)

	f.engine.EvaluateProjectChange(context.Background(), "p1", "budget_update", map[string]any{"utilizationPercent": 95.0})
	assert.Equal(t, []string{"over-budget"}, *f.calls)

	f.engine.EvaluateProjectChange(context.Background(), "p1", "budget_update", map[string]any{"utilizationPercent": 10.0})
	assert.Equal(t, []string{"over-budget"}, *f.calls)
}

func TestTriggerManual(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.tasks.tasks["t1"] = map[string]any{"id": "t1", "title": "Fix login"}

	definition := definitionWith(
		[]*models.WorkflowNode{trigger("n1"), actionNode("n2", "manual-run")},
		[]*models.WorkflowEdge{edge("e1", "n1", "n2", 0)},
	)
	f.saveDefinition(t, definition)

	execution, err := f.engine.TriggerManual(context.Background(), "def-1", "task", "t1")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "n1", execution.TriggerNodeID)
	assert.Equal(t, []string{"manual-run"}, *f.calls)
}

func TestTriggerManualNoTriggerNode(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	definition := definitionWith(
		[]*models.WorkflowNode{actionNode("n1", "orphan")},
		nil,
	)
	f.saveDefinition(t, definition)

	_, err := f.engine.TriggerManual(context.Background(), "def-1", "task", "t1")
	require.ErrorIs(t, err, ErrNoTriggerNode)
}
