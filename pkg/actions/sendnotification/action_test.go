package sendnotification

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/taskforge/pkg/models"
)

type fakeProjectService struct {
	responsible map[string]string
}

func (f *fakeProjectService) ResponsibleUser(_ context.Context, projectID string) (string, error) {
	return f.responsible[projectID], nil
}

type fakeNotificationService struct {
	sent []string
}

func (f *fakeNotificationService) Notify(_ context.Context, userID, title, _ string) error {
	f.sent = append(f.sent, userID+":"+title)

	return nil
}

func TestExecuteNotifiesResponsibleUser(t *testing.T) {
	t.Parallel()

	projects := &fakeProjectService{responsible: map[string]string{"p1": "u7"}}
	notifications := &fakeNotificationService{}
	factory := NewActionFactory(projects, notifications)

	action, err := factory.Create(map[string]any{"title": "Overdue", "message": "Task slipped"})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ExecutionContext{
		EntityID: "t1",
		Entity:   map[string]any{"projectId": "p1"},
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"recipient_found": true, "user_id": "u7"}, output)
	assert.Equal(t, []string{"u7:Overdue"}, notifications.sent)
}

func TestExecuteNoRecipient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		entity map[string]any
	}{
		{name: "entity without project", entity: map[string]any{"id": "t1"}},
		{name: "nil entity", entity: nil},
		{name: "project without responsible user", entity: map[string]any{"projectId": "p9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			notifications := &fakeNotificationService{}
			factory := NewActionFactory(&fakeProjectService{responsible: map[string]string{}}, notifications)

			action, err := factory.Create(map[string]any{"message": "hello"})
			require.NoError(t, err)

			output, err := action.Execute(context.Background(), models.ExecutionContext{Entity: tt.entity}, slog.Default())
			require.NoError(t, err)

			assert.Equal(t, map[string]any{"recipient_found": false}, output)
			assert.Empty(t, notifications.sent)
		})
	}
}

func TestExecuteAcceptsSnakeCaseProjectKey(t *testing.T) {
	t.Parallel()

	projects := &fakeProjectService{responsible: map[string]string{"p1": "u7"}}
	notifications := &fakeNotificationService{}
	factory := NewActionFactory(projects, notifications)

	action, err := factory.Create(map[string]any{"message": "hello"})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), models.ExecutionContext{
		Entity: map[string]any{"project_id": "p1"},
	}, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, true, output["recipient_found"])
}
