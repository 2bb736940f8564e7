// Package logactivity implements the log_activity action: append a
// human-readable activity line for the triggering entity.
package logactivity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/protocol"
)

type ActionFactory struct {
	activities protocol.ActivityLog
}

func NewActionFactory(activities protocol.ActivityLog) *ActionFactory {
	return &ActionFactory{activities: activities}
}

func (*ActionFactory) ID() string {
	return "log_activity"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Activity text. Supports {{task.*}} and {{nodes.*}} templates.",
			},
		},
		"required": []any{"message"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return &LogActivityAction{activities: f.activities, config: config}, nil
}

type LogActivityAction struct {
	activities protocol.ActivityLog
	config     map[string]any
}

func (a *LogActivityAction) Execute(ctx context.Context, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "log_activity")

	message, _ := a.config["message"].(string)
	if message == "" {
		message = "Workflow automation executed"
	}

	if err := a.activities.Append(ctx, ectx.EntityType, ectx.EntityID, message); err != nil {
		return nil, fmt.Errorf("failed to append activity: %w", err)
	}

	logger.InfoContext(ctx, "Appended activity", "entity_id", ectx.EntityID)

	return map[string]any{"logged": true, "message": message}, nil
}
