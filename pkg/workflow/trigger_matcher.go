package workflow

import (
	"fmt"
	"strconv"
	"time"
)

// Trigger types evaluated against task-level events.
const (
	TriggerStatusChange      = "status_change"
	TriggerProgressThreshold = "progress_threshold"
	TriggerDatePassed        = "date_passed"
	TriggerTaskCreated       = "task_created"
	TriggerAssignmentChange  = "assignment_change"
	TriggerDependencyChange  = "dependency_change"
	TriggerPriorityChange    = "priority_change"
	TriggerManual            = "manual"
)

// Trigger types evaluated against project-level events.
const (
	TriggerBudgetThreshold     = "budget_threshold"
	TriggerProjectStatusChange = "project_status_change"
)

// MatchesTaskTrigger decides whether a task change satisfies a trigger
// node's configuration. It is a pure predicate: unknown trigger types and
// malformed configurations never match. Project-level trigger types are not
// evaluated here and never match a task event.
func MatchesTaskTrigger(config map[string]any, newTask, oldTask map[string]any) bool {
	if config == nil || newTask == nil {
		return false
	}

	switch configString(config, "triggerType") {
	case TriggerStatusChange:
		return matchesStatusChange(config, newTask, oldTask)
	case TriggerProgressThreshold:
		return matchesProgressThreshold(config, newTask)
	case TriggerDatePassed:
		return matchesDatePassed(newTask)
	case TriggerTaskCreated:
		return matchesTaskCreated(config, newTask, oldTask)
	case TriggerAssignmentChange:
		return matchesFieldChange(config, newTask, oldTask, "assigneeId")
	case TriggerDependencyChange:
		return matchesFieldChange(config, newTask, oldTask, "dependencies")
	case TriggerPriorityChange:
		return matchesFieldChange(config, newTask, oldTask, "priority")
	case TriggerManual:
		return true
	default:
		return false
	}
}

// MatchesProjectTrigger decides whether a project-level event satisfies a
// trigger node's configuration. Budget triggers compare the supplied
// utilization percentage against the configured threshold; status triggers
// apply optional from/to filters where absence means don't care.
func MatchesProjectTrigger(config map[string]any, changeType string, data map[string]any) bool {
	if config == nil {
		return false
	}

	switch configString(config, "triggerType") {
	case TriggerBudgetThreshold:
		if changeType != "budget_update" {
			return false
		}

		utilization, ok := floatValue(data["utilizationPercent"])
		if !ok {
			return false
		}

		threshold, ok := floatValue(config["threshold"])
		if !ok {
			return false
		}

		return utilization >= threshold
	case TriggerProjectStatusChange:
		if changeType != "project_status_change" {
			return false
		}

		oldStatus, _ := data["oldStatus"].(string)
		newStatus, _ := data["newStatus"].(string)

		if from := configString(config, "fromStatus"); from != "" && from != oldStatus {
			return false
		}

		if to := configString(config, "toStatus"); to != "" && to != newStatus {
			return false
		}

		return true
	default:
		return false
	}
}

func matchesStatusChange(config map[string]any, newTask, oldTask map[string]any) bool {
	if oldTask == nil {
		return false
	}

	oldStatus := stringValue(oldTask["status"])
	newStatus := stringValue(newTask["status"])

	if oldStatus == newStatus {
		return false
	}

	if from := configString(config, "fromStatus"); from != "" && from != oldStatus {
		return false
	}

	if to := configString(config, "toStatus"); to != "" && to != newStatus {
		return false
	}

	return true
}

func matchesProgressThreshold(config map[string]any, newTask map[string]any) bool {
	progress, ok := floatValue(newTask["progress"])
	if !ok {
		return false
	}

	threshold, ok := floatValue(config["threshold"])
	if !ok {
		return false
	}

	if configString(config, "direction") == "below" {
		return progress <= threshold
	}

	return progress >= threshold
}

func matchesDatePassed(newTask map[string]any) bool {
	endDate, ok := timeValue(newTask["endDate"])
	if !ok {
		return false
	}

	return endDate.Before(time.Now())
}

func matchesTaskCreated(config map[string]any, newTask, oldTask map[string]any) bool {
	if oldTask != nil {
		return false
	}

	if initial := configString(config, "initialStatus"); initial != "" {
		return initial == stringValue(newTask["status"])
	}

	return true
}

// matchesFieldChange fires when the field differs between snapshots,
// optionally constrained to a specific new value via config["toValue"].
func matchesFieldChange(config map[string]any, newTask, oldTask map[string]any, field string) bool {
	if oldTask == nil {
		return false
	}

	oldValue := stringValue(oldTask[field])
	newValue := stringValue(newTask[field])

	if oldValue == newValue {
		return false
	}

	if target, ok := config["toValue"]; ok {
		return stringValue(target) == newValue
	}

	return true
}

func configString(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return value
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}

	return fmt.Sprintf("%v", v)
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func timeValue(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, d); err == nil {
				return parsed, true
			}
		}
	}

	return time.Time{}, false
}
