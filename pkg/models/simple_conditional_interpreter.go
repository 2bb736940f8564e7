// Package models provides conditional expression evaluation for workflow edges.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SimpleConditionalInterpreter compares a single entity field against a
// literal value. Numeric operators coerce both sides to float64, string
// operators stringify both sides. Unknown operators and a nil entity
// evaluate to false rather than erroring, so a malformed condition never
// takes a branch by accident.
type SimpleConditionalInterpreter struct {
	Condition *EdgeCondition
}

func (s *SimpleConditionalInterpreter) Evaluate(entity map[string]any) (bool, error) {
	if s.Condition == nil {
		return true, nil
	}

	if entity == nil {
		return false, nil
	}

	actual, ok := entity[s.Condition.Field]
	if !ok {
		actual = nil
	}

	expected := s.Condition.Value

	switch s.Condition.Operator {
	case "equals":
		return stringify(actual) == stringify(expected), nil
	case "not_equals":
		return stringify(actual) != stringify(expected), nil
	case "greater_than":
		a, b, ok := numericPair(actual, expected)

		return ok && a > b, nil
	case "less_than":
		a, b, ok := numericPair(actual, expected)

		return ok && a < b, nil
	case "contains":
		return strings.Contains(stringify(actual), stringify(expected)), nil
	case "not_contains":
		return !strings.Contains(stringify(actual), stringify(expected)), nil
	default:
		return false, nil
	}
}

func numericPair(a, b any) (float64, float64, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)

	return fa, fb, okA && okB
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	case bool:
		if n {
			return 1, true
		}

		return 0, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	return fmt.Sprintf("%v", v)
}
