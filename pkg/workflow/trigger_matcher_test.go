package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatchesTaskTriggerStatusChange(t *testing.T) {
	t.Parallel()

	config := map[string]any{"triggerType": "status_change"}

	tests := []struct {
		name    string
		config  map[string]any
		newTask map[string]any
		oldTask map[string]any
		want    bool
	}{
		{
			name:    "fires when status changed",
			config:  config,
			newTask: map[string]any{"status": "done"},
			oldTask: map[string]any{"status": "in_progress"},
			want:    true,
		},
		{
			name:    "does not fire on creation",
			config:  config,
			newTask: map[string]any{"status": "done"},
			oldTask: nil,
			want:    false,
		},
		{
			name:    "does not fire when status unchanged",
			config:  config,
			newTask: map[string]any{"status": "done"},
			oldTask: map[string]any{"status": "done"},
			want:    false,
		},
		{
			name:    "honors fromStatus filter",
			config:  map[string]any{"triggerType": "status_change", "fromStatus": "review"},
			newTask: map[string]any{"status": "done"},
			oldTask: map[string]any{"status": "in_progress"},
			want:    false,
		},
		{
			name:    "honors toStatus filter",
			config:  map[string]any{"triggerType": "status_change", "toStatus": "done"},
			newTask: map[string]any{"status": "done"},
			oldTask: map[string]any{"status": "review"},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, MatchesTaskTrigger(tt.config, tt.newTask, tt.oldTask))
		})
	}
}

func TestMatchesTaskTriggerProgressThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   map[string]any
		progress any
		want     bool
	}{
		{
			name:     "above direction fires at threshold",
			config:   map[string]any{"triggerType": "progress_threshold", "threshold": 80.0},
			progress: 80.0,
			want:     true,
		},
		{
			name:     "above direction does not fire below threshold",
			config:   map[string]any{"triggerType": "progress_threshold", "threshold": 80.0},
			progress: 79.0,
			want:     false,
		},
		{
			name:     "below direction fires at threshold",
			config:   map[string]any{"triggerType": "progress_threshold", "threshold": 20.0, "direction": "below"},
			progress: 20.0,
			want:     true,
		},
		{
			name:     "below direction does not fire above threshold",
			config:   map[string]any{"triggerType": "progress_threshold", "threshold": 20.0, "direction": "below"},
			progress: 21.0,
			want:     false,
		},
		{
			name:     "integer progress coerces",
			config:   map[string]any{"triggerType": "progress_threshold", "threshold": 50.0},
			progress: 50,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := MatchesTaskTrigger(tt.config, map[string]any{"progress": tt.progress}, map[string]any{})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchesTaskTriggerDatePassed(t *testing.T) {
	t.Parallel()

	config := map[string]any{"triggerType": "date_passed"}
	past := time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	future := time.Now().Add(24 * time.Hour).Format(time.RFC3339)

	assert.True(t, MatchesTaskTrigger(config, map[string]any{"endDate": past}, nil))
	assert.False(t, MatchesTaskTrigger(config, map[string]any{"endDate": future}, nil))
	assert.False(t, MatchesTaskTrigger(config, map[string]any{}, nil))
	assert.True(t, MatchesTaskTrigger(config, map[string]any{"endDate": "2020-01-02"}, nil))
}

func TestMatchesTaskTriggerTaskCreated(t *testing.T) {
	t.Parallel()

	config := map[string]any{"triggerType": "task_created"}

	assert.True(t, MatchesTaskTrigger(config, map[string]any{"status": "todo"}, nil))
	assert.False(t, MatchesTaskTrigger(config, map[string]any{"status": "todo"}, map[string]any{"status": "todo"}))

	filtered := map[string]any{"triggerType": "task_created", "initialStatus": "backlog"}
	assert.False(t, MatchesTaskTrigger(filtered, map[string]any{"status": "todo"}, nil))
	assert.True(t, MatchesTaskTrigger(filtered, map[string]any{"status": "backlog"}, nil))
}

func TestMatchesTaskTriggerFieldChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  map[string]any
		newTask map[string]any
		oldTask map[string]any
		want    bool
	}{
		{
			name:    "assignment change fires",
			config:  map[string]any{"triggerType": "assignment_change"},
			newTask: map[string]any{"assigneeId": "u2"},
			oldTask: map[string]any{"assigneeId": "u1"},
			want:    true,
		},
		{
			name:    "assignment unchanged does not fire",
			config:  map[string]any{"triggerType": "assignment_change"},
			newTask: map[string]any{"assigneeId": "u1"},
			oldTask: map[string]any{"assigneeId": "u1"},
			want:    false,
		},
		{
			name:    "assignment toValue filter",
			config:  map[string]any{"triggerType": "assignment_change", "toValue": "u3"},
			newTask: map[string]any{"assigneeId": "u2"},
			oldTask: map[string]any{"assigneeId": "u1"},
			want:    false,
		},
		{
			name:    "priority change fires",
			config:  map[string]any{"triggerType": "priority_change"},
			newTask: map[string]any{"priority": "high"},
			oldTask: map[string]any{"priority": "low"},
			want:    true,
		},
		{
			name:    "field change requires old task",
			config:  map[string]any{"triggerType": "priority_change"},
			newTask: map[string]any{"priority": "high"},
			oldTask: nil,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, MatchesTaskTrigger(tt.config, tt.newTask, tt.oldTask))
		})
	}
}

func TestMatchesTaskTriggerManualAndUnknown(t *testing.T) {
	t.Parallel()

	assert.True(t, MatchesTaskTrigger(map[string]any{"triggerType": "manual"}, map[string]any{}, nil))
	assert.False(t, MatchesTaskTrigger(map[string]any{"triggerType": "bogus"}, map[string]any{}, nil))
	assert.False(t, MatchesTaskTrigger(nil, map[string]any{}, nil))
}

func TestMatchesProjectTrigger(t *testing.T) {
	t.Parallel()

	budget := map[string]any{"triggerType": "budget_threshold", "threshold": 90.0}

	assert.True(t, MatchesProjectTrigger(budget, "budget_update", map[string]any{"utilizationPercent": 95.0}))
	assert.False(t, MatchesProjectTrigger(budget, "budget_update", map[string]any{"utilizationPercent": 50.0}))
	assert.False(t, MatchesProjectTrigger(budget, "project_status_change", map[string]any{"utilizationPercent": 95.0}))

	status := map[string]any{"triggerType": "project_status_change", "toStatus": "on_hold"}

	assert.True(t, MatchesProjectTrigger(status, "project_status_change", map[string]any{"newStatus": "on_hold"}))
	assert.False(t, MatchesProjectTrigger(status, "project_status_change", map[string]any{"newStatus": "active"}))
}
