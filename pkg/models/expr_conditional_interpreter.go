package models

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// ExprConditionalInterpreter evaluates an expr-lang expression against the
// entity snapshot. The entity fields are exposed as the expression
// environment, so `status == "done" && progress >= 100` reads naturally.
type ExprConditionalInterpreter struct {
	Expression string
}

func (e *ExprConditionalInterpreter) Evaluate(entity map[string]any) (bool, error) {
	if e.Expression == "" {
		return true, nil
	}

	if entity == nil {
		return false, nil
	}

	program, err := expr.Compile(e.Expression, expr.Env(entity), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("failed to compile condition %q: %w", e.Expression, err)
	}

	result, err := expr.Run(program, entity)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", e.Expression, err)
	}

	value, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", e.Expression)
	}

	return value, nil
}
