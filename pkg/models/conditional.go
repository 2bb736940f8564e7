package models

// Conditional evaluates a boolean expression against the snapshot of the
// triggering entity.
type Conditional interface {
	Evaluate(entity map[string]any) (bool, error)
}

// GetConditional returns the interpreter for the condition's language. The
// simple field/operator/value language is the default; "expr" selects the
// expression language interpreter.
func GetConditional(cond *EdgeCondition) Conditional {
	if cond != nil && cond.Language == "expr" {
		return &ExprConditionalInterpreter{Expression: cond.Expression}
	}

	return &SimpleConditionalInterpreter{Condition: cond}
}
