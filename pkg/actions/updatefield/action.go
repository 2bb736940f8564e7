// Package updatefield implements the update_field action: mutate one field
// of the triggering task through the task subsystem.
package updatefield

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/protocol"
)

type ActionFactory struct {
	tasks protocol.TaskService
}

func NewActionFactory(tasks protocol.TaskService) *ActionFactory {
	return &ActionFactory{tasks: tasks}
}

func (*ActionFactory) ID() string {
	return "update_field"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Task field to overwrite.",
			},
			"value": map[string]any{
				"description": "New value. Supports {{task.*}} and {{nodes.*}} templates.",
			},
		},
		"required": []any{"field", "value"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return &UpdateFieldAction{tasks: f.tasks, config: config}, nil
}

type UpdateFieldAction struct {
	tasks  protocol.TaskService
	config map[string]any
}

// Execute writes config["value"] into config["field"] of the triggering
// entity. A missing entity, field or value is a configuration problem, not
// a failure: the action reports skipped and the run continues.
func (a *UpdateFieldAction) Execute(ctx context.Context, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "update_field")

	field, _ := a.config["field"].(string)
	value, hasValue := a.config["value"]

	if ectx.EntityID == "" || field == "" || !hasValue {
		logger.InfoContext(ctx, "Skipping update_field action", "field", field, "entity_id", ectx.EntityID)

		return map[string]any{"skipped": true}, nil
	}

	if err := a.tasks.UpdateField(ctx, ectx.EntityID, field, value); err != nil {
		return nil, fmt.Errorf("failed to update field %s: %w", field, err)
	}

	logger.InfoContext(ctx, "Updated task field", "task_id", ectx.EntityID, "field", field)

	return map[string]any{
		"updated": true,
		"field":   field,
		"value":   value,
	}, nil
}
