// Package workflow implements the execution engine: it starts runs when
// domain events match trigger nodes, walks the definition graph, dispatches
// node execution and suspends/resumes runs on approval and delay nodes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/taskforge/taskforge/pkg/eventbus"
	"github.com/taskforge/taskforge/pkg/events"
	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/otelhelper"
	"github.com/taskforge/taskforge/pkg/persistence"
	"github.com/taskforge/taskforge/pkg/protocol"
	"github.com/taskforge/taskforge/pkg/registry"
	"github.com/taskforge/taskforge/pkg/template"
)

// Agent node configuration defaults.
const (
	defaultAgentBackoff = 1000 * time.Millisecond
)

var (
	// ErrNoTriggerNode is returned by TriggerManual when the definition has
	// no trigger-typed node to start from.
	ErrNoTriggerNode = errors.New("definition has no trigger node")

	// errHalted unwinds the recursive walk after the run has already been
	// marked failed; it never escapes the engine.
	errHalted = errors.New("execution halted")
)

// Collaborators groups the external services the engine calls directly.
// Action-specific collaborators are injected through the action factories
// instead.
type Collaborators struct {
	Tasks  protocol.TaskService
	Agents protocol.AgentRegistry
	Audit  protocol.AuditLog
}

// Engine is the workflow state machine. It holds no per-run state: every
// run lives entirely in persisted execution and node-execution rows, which
// makes suspension and resumption safe across process restarts.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	collab      Collaborators
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewEngine(
	p persistence.Persistence,
	r *registry.Registry,
	collab Collaborators,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("workflow")
	}

	return &Engine{
		persistence: p,
		registry:    r,
		collab:      collab,
		eventBus:    eventBus,
		logger:      logger.With("module", "workflow_engine"),
		tracer:      tracer,
	}
}

// runState carries the in-flight walk of one run. The visited set is scoped
// to the run, never shared, so concurrent runs cannot alias each other.
type runState struct {
	definition *models.WorkflowDefinition
	execution  *models.WorkflowExecution
	entity     map[string]any
	visited    map[string]bool
}

func (rs *runState) outputs() map[string]any {
	return rs.execution.NodeOutputs()
}

// EvaluateTaskChange checks every enabled definition's trigger nodes against
// a task change and starts a run per match. It never returns an error:
// workflow automation is auxiliary to the task write that triggered it, so
// collaborator failures are logged and swallowed.
func (e *Engine) EvaluateTaskChange(ctx context.Context, newTask, oldTask map[string]any) {
	if newTask == nil {
		return
	}

	// Matching is deliberately global across project scopes: the task
	// snapshot carries no project reference at match time.
	definitions, err := e.persistence.Workflows(ctx, persistence.ListWorkflowsOptions{EnabledOnly: true})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list definitions for task change", "error", err)

		return
	}

	entityID := stringValue(newTask["id"])

	for _, definition := range definitions {
		for _, node := range definition.Nodes {
			if node.Type != models.NodeTypeTrigger {
				continue
			}

			if !MatchesTaskTrigger(node.Config, newTask, oldTask) {
				continue
			}

			if _, err := e.StartRun(ctx, definition, node, "task", entityID, newTask); err != nil {
				e.logger.ErrorContext(ctx, "Failed to start run for task change",
					"definition_id", definition.ID, "trigger_node_id", node.ID, "error", err)
			}
		}
	}
}

// EvaluateProjectChange is the project-level counterpart of
// EvaluateTaskChange, handling budget_update and project_status_change
// events. The causing entity is nil for these runs.
func (e *Engine) EvaluateProjectChange(ctx context.Context, projectID, changeType string, data map[string]any) {
	definitions, err := e.persistence.Workflows(ctx, persistence.ListWorkflowsOptions{EnabledOnly: true})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list definitions for project change", "error", err)

		return
	}

	for _, definition := range definitions {
		for _, node := range definition.Nodes {
			if node.Type != models.NodeTypeTrigger {
				continue
			}

			if !MatchesProjectTrigger(node.Config, changeType, data) {
				continue
			}

			if _, err := e.StartRun(ctx, definition, node, "project", projectID, nil); err != nil {
				e.logger.ErrorContext(ctx, "Failed to start run for project change",
					"definition_id", definition.ID, "trigger_node_id", node.ID, "error", err)
			}
		}
	}
}

// TriggerManual starts a run from the definition's first trigger node with
// the entity looked up from the task subsystem.
func (e *Engine) TriggerManual(ctx context.Context, definitionID, entityType, entityID string) (*models.WorkflowExecution, error) {
	definition, err := e.persistence.WorkflowByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	trigger := definition.FirstTriggerNode()
	if trigger == nil {
		return nil, ErrNoTriggerNode
	}

	var entity map[string]any

	if entityType == "task" && entityID != "" && e.collab.Tasks != nil {
		entity, err = e.collab.Tasks.TaskByID(ctx, entityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s: %w", entityID, err)
		}
	}

	return e.StartRun(ctx, definition, trigger, entityType, entityID, entity)
}

// StartRun creates a run in running status, records the trigger node as
// completed and advances through the graph until every reachable path
// terminates, fails or suspends. The returned execution reflects the final
// persisted state; run-level failures are recorded on the execution, not
// returned as errors.
func (e *Engine) StartRun(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	trigger *models.WorkflowNode,
	entityType, entityID string,
	entity map[string]any,
) (*models.WorkflowExecution, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String(otelhelper.DefinitionIDKey, definition.ID),
			attribute.String(otelhelper.NodeIDKey, trigger.ID),
			attribute.String(otelhelper.EntityIDKey, entityID),
		))
	defer span.End()

	now := time.Now().UTC()

	execution := &models.WorkflowExecution{
		ID:            uuid.New().String(),
		DefinitionID:  definition.ID,
		TriggerNodeID: trigger.ID,
		EntityType:    entityType,
		EntityID:      entityID,
		Status:        models.ExecutionStatusRunning,
		Context:       map[string]any{models.ContextKeyNodeOutputs: map[string]any{}},
		StartedAt:     now,
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	triggerExecution := &models.NodeExecution{
		ID:          uuid.New().String(),
		ExecutionID: execution.ID,
		NodeID:      trigger.ID,
		Status:      models.NodeExecutionStatusCompleted,
		StartedAt:   now,
		CompletedAt: &now,
	}

	if err := e.persistence.SaveNodeExecution(ctx, triggerExecution); err != nil {
		return nil, fmt.Errorf("failed to record trigger execution: %w", err)
	}

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:    e.baseEvent(events.ExecutionStartedEvent),
		ExecutionID:  execution.ID,
		DefinitionID: definition.ID,
		EntityID:     entityID,
	})

	e.logger.InfoContext(ctx, "Started workflow execution",
		"execution_id", execution.ID, "definition_id", definition.ID, "trigger_node_id", trigger.ID)

	rs := &runState{
		definition: definition,
		execution:  execution,
		entity:     entity,
		visited:    map[string]bool{trigger.ID: true},
	}

	if err := e.advance(ctx, rs, trigger.ID); err != nil && !errors.Is(err, errHalted) {
		return nil, err
	}

	return execution, nil
}

// advance walks the outgoing edges of a node in sort order. A node with no
// outgoing edges is a leaf, which triggers the run completion check.
func (e *Engine) advance(ctx context.Context, rs *runState, fromNodeID string) error {
	edges := rs.definition.OutgoingEdges(fromNodeID)
	if len(edges) == 0 {
		return e.checkCompletion(ctx, rs)
	}

	for _, edge := range edges {
		// A revisited node means the graph cycles at runtime; the whole run
		// aborts, no further edges are processed.
		if rs.visited[edge.TargetID] {
			return e.failRun(ctx, rs, nil, fmt.Errorf("cycle detected at node %s", edge.TargetID))
		}

		if edge.Condition != nil {
			taken, err := models.GetConditional(edge.Condition).Evaluate(rs.entity)
			if err != nil {
				e.logger.WarnContext(ctx, "Edge condition failed to evaluate, branch not taken",
					"execution_id", rs.execution.ID, "edge_id", edge.ID, "error", err)
			}

			if !taken {
				continue
			}
		}

		target := rs.definition.NodeByID(edge.TargetID)
		if target == nil {
			return e.failRun(ctx, rs, nil, fmt.Errorf("edge %s targets unknown node %s", edge.ID, edge.TargetID))
		}

		rs.visited[target.ID] = true

		if err := e.executeNode(ctx, rs, target); err != nil {
			return err
		}
	}

	return nil
}

// executeNode creates a running node execution and dispatches on node type.
func (e *Engine) executeNode(ctx context.Context, rs *runState, node *models.WorkflowNode) error {
	ctx, span := e.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String(otelhelper.ExecutionIDKey, rs.execution.ID),
			attribute.String(otelhelper.NodeIDKey, node.ID),
			attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		))
	defer span.End()

	nodeExecution := &models.NodeExecution{
		ID:          uuid.New().String(),
		ExecutionID: rs.execution.ID,
		NodeID:      node.ID,
		Status:      models.NodeExecutionStatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	if err := e.persistence.SaveNodeExecution(ctx, nodeExecution); err != nil {
		return e.failRun(ctx, rs, nodeExecution, fmt.Errorf("failed to record node execution: %w", err))
	}

	switch node.Type {
	case models.NodeTypeCondition:
		return e.executeConditionNode(ctx, rs, node, nodeExecution)
	case models.NodeTypeAction:
		return e.executeActionNode(ctx, rs, node, nodeExecution)
	case models.NodeTypeAgent:
		return e.executeAgentNode(ctx, rs, node, nodeExecution)
	case models.NodeTypeApproval, models.NodeTypeDelay:
		return e.suspendAtNode(ctx, rs, node, nodeExecution)
	case models.NodeTypeTrigger:
		// A trigger reached mid-graph has no behavior; pass through.
		fallthrough
	default:
		if err := e.completeNode(ctx, rs, nodeExecution, models.NodeExecutionStatusSkipped, nil); err != nil {
			return e.failRun(ctx, rs, nodeExecution, err)
		}

		return e.advance(ctx, rs, node.ID)
	}
}

// executeConditionNode evaluates the node's comparison, records the boolean
// result, then follows its own outgoing edges by label: unlabeled edges are
// unconditional, "yes"/"no" labels must match the result. The completion
// check is left to the followed branches.
func (e *Engine) executeConditionNode(ctx context.Context, rs *runState, node *models.WorkflowNode, nodeExecution *models.NodeExecution) error {
	condition := conditionFromConfig(node.Config)

	result, err := models.GetConditional(condition).Evaluate(rs.entity)
	if err != nil {
		e.logger.WarnContext(ctx, "Condition node failed to evaluate, treating as false",
			"execution_id", rs.execution.ID, "node_id", node.ID, "error", err)
	}

	output := map[string]any{"result": result}

	rs.outputs()[node.ID] = output

	if err := e.completeNode(ctx, rs, nodeExecution, models.NodeExecutionStatusCompleted, output); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	if err := e.persistOutputs(ctx, rs); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	branch := "no"
	if result {
		branch = "yes"
	}

	for _, edge := range rs.definition.OutgoingEdges(node.ID) {
		if edge.Label != "" && edge.Label != branch {
			continue
		}

		if rs.visited[edge.TargetID] {
			continue
		}

		target := rs.definition.NodeByID(edge.TargetID)
		if target == nil {
			return e.failRun(ctx, rs, nil, fmt.Errorf("edge %s targets unknown node %s", edge.ID, edge.TargetID))
		}

		rs.visited[target.ID] = true

		if err := e.executeNode(ctx, rs, target); err != nil {
			return err
		}
	}

	return nil
}

// executeActionNode resolves templates in the node configuration and
// delegates to the registered action. An unregistered actionType is a
// configuration problem and degrades to a skip.
func (e *Engine) executeActionNode(ctx context.Context, rs *runState, node *models.WorkflowNode, nodeExecution *models.NodeExecution) error {
	resolvedConfig, _ := template.Resolve(node.Config, rs.outputs(), rs.entity).(map[string]any)
	actionType := configString(resolvedConfig, "actionType")

	nodeExecution.Input = resolvedConfig

	if !e.registry.HasAction(actionType) {
		e.logger.WarnContext(ctx, "Unknown action type, skipping node",
			"execution_id", rs.execution.ID, "node_id", node.ID, "action_type", actionType)

		output := map[string]any{"skipped": true}

		rs.outputs()[node.ID] = output

		if err := e.completeNode(ctx, rs, nodeExecution, models.NodeExecutionStatusCompleted, output); err != nil {
			return e.failRun(ctx, rs, nodeExecution, err)
		}

		if err := e.persistOutputs(ctx, rs); err != nil {
			return e.failRun(ctx, rs, nodeExecution, err)
		}

		return e.advance(ctx, rs, node.ID)
	}

	action, err := e.registry.CreateAction(actionType, resolvedConfig)
	if err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	output, err := action.Execute(ctx, e.executionContext(rs), e.logger)
	if err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	rs.outputs()[node.ID] = output

	if err := e.completeNode(ctx, rs, nodeExecution, models.NodeExecutionStatusCompleted, output); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	if err := e.persistOutputs(ctx, rs); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	return e.advance(ctx, rs, node.ID)
}

// executeAgentNode invokes the configured agent with resolved input,
// retrying up to 1+retries attempts with linear backoff. Exhausting every
// attempt fails the run.
func (e *Engine) executeAgentNode(ctx context.Context, rs *runState, node *models.WorkflowNode, nodeExecution *models.NodeExecution) error {
	agentID := configString(node.Config, "agentId")
	if agentID == "" {
		return e.failRun(ctx, rs, nodeExecution, fmt.Errorf("agent node %s has no agentId", node.ID))
	}

	input, _ := template.Resolve(node.Config["input"], rs.outputs(), rs.entity).(map[string]any)
	nodeExecution.Input = input

	retries := configInt(node.Config, "retries", 0)

	backoff := defaultAgentBackoff
	if ms := configInt(node.Config, "backoffMs", 0); ms > 0 {
		backoff = time.Duration(ms) * time.Millisecond
	}

	var output map[string]any

	var lastErr error

	for attempt := 1; attempt <= 1+retries; attempt++ {
		result, err := e.collab.Agents.Invoke(ctx, agentID, input, map[string]any{
			"execution_id": rs.execution.ID,
			"node_id":      node.ID,
			"attempt":      attempt,
		})

		switch {
		case err != nil:
			lastErr = err
		case !result.Success:
			lastErr = fmt.Errorf("agent %s reported failure: %s", agentID, result.Error)
		default:
			output = map[string]any{
				"agentOutput": result.Output,
				"durationMs":  result.DurationMs,
			}
		}

		if output != nil {
			break
		}

		e.logger.WarnContext(ctx, "Agent invocation failed",
			"execution_id", rs.execution.ID, "node_id", node.ID, "attempt", attempt, "error", lastErr)

		if attempt <= retries {
			if err := sleepContext(ctx, backoff*time.Duration(attempt)); err != nil {
				lastErr = err

				break
			}
		}
	}

	if output == nil {
		return e.failRun(ctx, rs, nodeExecution, fmt.Errorf("agent %s failed after %d attempts: %w", agentID, 1+retries, lastErr))
	}

	rs.outputs()[node.ID] = output

	if err := e.completeNode(ctx, rs, nodeExecution, models.NodeExecutionStatusCompleted, output); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	if err := e.persistOutputs(ctx, rs); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	return e.advance(ctx, rs, node.ID)
}

// suspendAtNode parks the run on an approval or delay node. The walk stops
// here; only an explicit Resume continues past this node. Delay nodes
// record their earliest resumption time so the resumer can find them.
func (e *Engine) suspendAtNode(ctx context.Context, rs *runState, node *models.WorkflowNode, nodeExecution *models.NodeExecution) error {
	nodeExecution.Status = models.NodeExecutionStatusWaiting

	if node.Type == models.NodeTypeDelay {
		durationMs := configInt(node.Config, "durationMs", 0)
		resumeAt := time.Now().UTC().Add(time.Duration(durationMs) * time.Millisecond)
		nodeExecution.Input = map[string]any{"resume_at": resumeAt.Format(time.RFC3339Nano)}
	}

	if err := e.persistence.SaveNodeExecution(ctx, nodeExecution); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	rs.execution.Status = models.ExecutionStatusWaiting

	if err := e.persistence.SaveExecution(ctx, rs.execution); err != nil {
		return e.failRun(ctx, rs, nodeExecution, err)
	}

	e.publish(ctx, rs.execution.ID, events.ExecutionPaused{
		BaseEvent:   e.baseEvent(events.ExecutionPausedEvent),
		ExecutionID: rs.execution.ID,
		NodeID:      node.ID,
	})

	e.logger.InfoContext(ctx, "Execution suspended",
		"execution_id", rs.execution.ID, "node_id", node.ID, "node_type", node.Type)

	return nil
}

// Resume completes a waiting node with the supplied result and continues
// the walk from it. The transition is a compare-and-set, so a duplicate or
// concurrent resume of the same node is a no-op. All walk state is rebuilt
// from persisted rows; nothing survives in memory between suspension and
// resumption.
func (e *Engine) Resume(ctx context.Context, executionID, nodeID string, result map[string]any) (*models.WorkflowExecution, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.resume",
		trace.WithAttributes(
			attribute.String(otelhelper.ExecutionIDKey, executionID),
			attribute.String(otelhelper.NodeIDKey, nodeID),
		))
	defer span.End()

	execution, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusWaiting {
		return execution, nil
	}

	nodeExecutions, err := e.persistence.NodeExecutionsByExecutionID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load node executions: %w", err)
	}

	var waiting *models.NodeExecution

	for _, nodeExecution := range nodeExecutions {
		if nodeExecution.NodeID == nodeID && nodeExecution.Status == models.NodeExecutionStatusWaiting {
			waiting = nodeExecution

			break
		}
	}

	if waiting == nil {
		return execution, nil
	}

	applied, err := e.persistence.TransitionNodeExecution(ctx, waiting.ID,
		models.NodeExecutionStatusWaiting, models.NodeExecutionStatusCompleted, result)
	if err != nil {
		return nil, fmt.Errorf("failed to complete waiting node: %w", err)
	}

	if !applied {
		// Lost a resume race; the winner is carrying the run forward.
		return execution, nil
	}

	definition, err := e.persistence.WorkflowByID(ctx, execution.DefinitionID)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatusRunning

	// Replay completed node executions to rebuild outputs and the visited
	// set. The just-resumed node contributes its result.
	outputs := execution.NodeOutputs()
	visited := make(map[string]bool)

	for _, nodeExecution := range nodeExecutions {
		if nodeExecution.Status == models.NodeExecutionStatusCompleted {
			visited[nodeExecution.NodeID] = true

			if nodeExecution.Output != nil {
				outputs[nodeExecution.NodeID] = nodeExecution.Output
			}
		}
	}

	visited[nodeID] = true

	if result != nil {
		outputs[nodeID] = result
	}

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to resume execution: %w", err)
	}

	e.publish(ctx, execution.ID, events.ExecutionResumed{
		BaseEvent:   e.baseEvent(events.ExecutionResumedEvent),
		ExecutionID: execution.ID,
		NodeID:      nodeID,
	})

	e.logger.InfoContext(ctx, "Execution resumed", "execution_id", execution.ID, "node_id", nodeID)

	rs := &runState{
		definition: definition,
		execution:  execution,
		entity:     e.reloadEntity(ctx, execution),
		visited:    visited,
	}

	if err := e.advance(ctx, rs, nodeID); err != nil && !errors.Is(err, errHalted) {
		return nil, err
	}

	return execution, nil
}

// reloadEntity refetches the causing entity so edge conditions and
// templates past the suspension point see current state. A lookup failure
// degrades to a nil entity rather than failing the resume.
func (e *Engine) reloadEntity(ctx context.Context, execution *models.WorkflowExecution) map[string]any {
	if e.collab.Tasks == nil || execution.EntityType != "task" || execution.EntityID == "" {
		return nil
	}

	entity, err := e.collab.Tasks.TaskByID(ctx, execution.EntityID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to reload entity on resume",
			"execution_id", execution.ID, "entity_id", execution.EntityID, "error", err)

		return nil
	}

	return entity
}

// checkCompletion runs at leaves: once every node execution is terminal the
// run finishes, failed when any node failed. A waiting run is never
// auto-completed.
func (e *Engine) checkCompletion(ctx context.Context, rs *runState) error {
	if rs.execution.Status != models.ExecutionStatusRunning {
		return nil
	}

	nodeExecutions, err := e.persistence.NodeExecutionsByExecutionID(ctx, rs.execution.ID)
	if err != nil {
		return fmt.Errorf("failed to load node executions: %w", err)
	}

	anyFailed := false

	for _, nodeExecution := range nodeExecutions {
		if !nodeExecution.Status.Terminal() {
			return nil
		}

		if nodeExecution.Status == models.NodeExecutionStatusFailed {
			anyFailed = true
		}
	}

	now := time.Now().UTC()
	rs.execution.CompletedAt = &now
	rs.execution.Status = models.ExecutionStatusCompleted

	if anyFailed {
		rs.execution.Status = models.ExecutionStatusFailed
	}

	if err := e.persistence.SaveExecution(ctx, rs.execution); err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}

	e.finishRun(ctx, rs.execution)

	return nil
}

// failRun marks the active node execution (when given) and the run as
// failed with the same message, then halts the walk.
func (e *Engine) failRun(ctx context.Context, rs *runState, nodeExecution *models.NodeExecution, cause error) error {
	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", rs.execution.ID, "error", cause)

	otelhelper.SetError(trace.SpanFromContext(ctx), cause,
		attribute.String(otelhelper.ExecutionIDKey, rs.execution.ID))

	now := time.Now().UTC()

	if nodeExecution != nil {
		nodeExecution.Status = models.NodeExecutionStatusFailed
		nodeExecution.Error = cause.Error()
		nodeExecution.CompletedAt = &now

		if err := e.persistence.SaveNodeExecution(ctx, nodeExecution); err != nil {
			e.logger.ErrorContext(ctx, "Failed to record node failure", "error", err)
		}
	}

	rs.execution.Status = models.ExecutionStatusFailed
	rs.execution.Error = cause.Error()
	rs.execution.CompletedAt = &now

	if err := e.persistence.SaveExecution(ctx, rs.execution); err != nil {
		e.logger.ErrorContext(ctx, "Failed to record execution failure", "error", err)
	}

	e.finishRun(ctx, rs.execution)

	return errHalted
}

// finishRun emits the terminal lifecycle event and the audit record, both
// best-effort.
func (e *Engine) finishRun(ctx context.Context, execution *models.WorkflowExecution) {
	if execution.Status == models.ExecutionStatusFailed {
		e.publish(ctx, execution.ID, events.ExecutionFailed{
			BaseEvent:    e.baseEvent(events.ExecutionFailedEvent),
			ExecutionID:  execution.ID,
			DefinitionID: execution.DefinitionID,
			Error:        execution.Error,
		})
	} else {
		e.publish(ctx, execution.ID, events.ExecutionCompleted{
			BaseEvent:    e.baseEvent(events.ExecutionCompletedEvent),
			ExecutionID:  execution.ID,
			DefinitionID: execution.DefinitionID,
		})
	}

	if e.collab.Audit == nil {
		return
	}

	record := protocol.AuditRecord{
		Actor:  "workflow-engine",
		Action: "workflow_execution",
		Payload: map[string]any{
			"execution_id":  execution.ID,
			"definition_id": execution.DefinitionID,
			"entity_type":   execution.EntityType,
			"entity_id":     execution.EntityID,
			"error":         execution.Error,
		},
		Outcome:   string(execution.Status),
		Timestamp: time.Now().UTC(),
	}

	if err := e.collab.Audit.Append(ctx, record); err != nil {
		e.logger.WarnContext(ctx, "Failed to append audit record",
			"execution_id", execution.ID, "error", err)
	}
}

func (e *Engine) completeNode(ctx context.Context, rs *runState, nodeExecution *models.NodeExecution, status models.NodeExecutionStatus, output map[string]any) error {
	now := time.Now().UTC()
	nodeExecution.Status = status
	nodeExecution.Output = output
	nodeExecution.CompletedAt = &now

	return e.persistence.SaveNodeExecution(ctx, nodeExecution)
}

func (e *Engine) persistOutputs(ctx context.Context, rs *runState) error {
	return e.persistence.SaveExecution(ctx, rs.execution)
}

func (e *Engine) executionContext(rs *runState) models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID:  rs.execution.ID,
		DefinitionID: rs.definition.ID,
		EntityType:   rs.execution.EntityType,
		EntityID:     rs.execution.EntityID,
		Entity:       rs.entity,
		NodeOutputs:  rs.outputs(),
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType) events.BaseEvent {
	id := uuid.New().String()
	if e.eventBus != nil {
		id = e.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// conditionFromConfig reads a condition node's comparison from its config.
func conditionFromConfig(config map[string]any) *models.EdgeCondition {
	if config == nil {
		return &models.EdgeCondition{}
	}

	return &models.EdgeCondition{
		Field:      configString(config, "field"),
		Operator:   configString(config, "operator"),
		Value:      config["value"],
		Language:   configString(config, "language"),
		Expression: configString(config, "expression"),
	}
}

func configInt(config map[string]any, key string, fallback int) int {
	if config == nil {
		return fallback
	}

	switch n := config[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
