// Package sendnotification implements the send_notification action: route a
// notification to the responsible user of the triggering entity's project.
package sendnotification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/models"
	"github.com/taskforge/taskforge/pkg/protocol"
)

type ActionFactory struct {
	projects      protocol.ProjectService
	notifications protocol.NotificationService
}

func NewActionFactory(projects protocol.ProjectService, notifications protocol.NotificationService) *ActionFactory {
	return &ActionFactory{projects: projects, notifications: notifications}
}

func (*ActionFactory) ID() string {
	return "send_notification"
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Notification title.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Notification body. Supports templates.",
			},
		},
		"required": []any{"message"},
	}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return &SendNotificationAction{projects: f.projects, notifications: f.notifications, config: config}, nil
}

type SendNotificationAction struct {
	projects      protocol.ProjectService
	notifications protocol.NotificationService
	config        map[string]any
}

// Execute resolves the entity's project to its responsible user and creates
// a notification for them. Not finding a recipient is reported in the
// output rather than failing the run.
func (a *SendNotificationAction) Execute(ctx context.Context, ectx models.ExecutionContext, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "send_notification")

	projectID := projectIDFromEntity(ectx.Entity)
	if projectID == "" {
		logger.InfoContext(ctx, "No project on entity, skipping notification", "entity_id", ectx.EntityID)

		return map[string]any{"recipient_found": false}, nil
	}

	userID, err := a.projects.ResponsibleUser(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve responsible user for project %s: %w", projectID, err)
	}

	if userID == "" {
		logger.InfoContext(ctx, "Project has no responsible user", "project_id", projectID)

		return map[string]any{"recipient_found": false}, nil
	}

	title, _ := a.config["title"].(string)
	if title == "" {
		title = "Workflow notification"
	}

	message, _ := a.config["message"].(string)

	if err := a.notifications.Notify(ctx, userID, title, message); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	logger.InfoContext(ctx, "Notification created", "user_id", userID, "project_id", projectID)

	return map[string]any{"recipient_found": true, "user_id": userID}, nil
}

func projectIDFromEntity(entity map[string]any) string {
	if entity == nil {
		return ""
	}

	for _, key := range []string{"projectId", "project_id"} {
		if id, ok := entity[key].(string); ok && id != "" {
			return id
		}
	}

	return ""
}
