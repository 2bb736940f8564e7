// Package template resolves {{token}} placeholders in node configurations
// against the triggering entity and prior node outputs.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/taskforge/taskforge/pkg/models"
)

var (
	wholeTokenRe = regexp.MustCompile(`^\{\{(.+)\}\}$`)
	inlineRe     = regexp.MustCompile(`\{\{([^}]+)\}\}`)
)

// ResolveWithContext resolves templates using the execution context's entity
// snapshot and accumulated node outputs.
func ResolveWithContext(value any, ectx models.ExecutionContext) any {
	return Resolve(value, ectx.NodeOutputs, ectx.Entity)
}

// Resolve recursively walks value and resolves template tokens in strings.
// A string that is exactly one token resolves to the token's native value,
// preserving its type. Tokens embedded in a longer string are replaced by
// their stringified values. Unresolved tokens are left verbatim, braces
// included, so a bad reference is visible in the output instead of silently
// becoming empty. Maps and slices are rebuilt element-wise; everything else
// passes through unchanged.
func Resolve(value any, nodeOutputs map[string]any, entity map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, nodeOutputs, entity)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			resolved[key] = Resolve(item, nodeOutputs, entity)
		}

		return resolved
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			resolved[i] = Resolve(item, nodeOutputs, entity)
		}

		return resolved
	default:
		return value
	}
}

func resolveString(s string, nodeOutputs map[string]any, entity map[string]any) any {
	if match := wholeTokenRe.FindStringSubmatch(s); match != nil {
		value, ok := resolveToken(match[1], nodeOutputs, entity)
		if !ok {
			return s
		}

		return value
	}

	return inlineRe.ReplaceAllStringFunc(s, func(occurrence string) string {
		token := inlineRe.FindStringSubmatch(occurrence)[1]

		value, ok := resolveToken(token, nodeOutputs, entity)
		if !ok {
			return occurrence
		}

		return stringifyValue(value)
	})
}

// resolveToken resolves a single dotted token. "task.<path>" walks the
// entity snapshot; "nodes.<nodeId>.<path>" walks that node's recorded
// output. Traversal stops as soon as it hits a missing key or a non-object.
func resolveToken(token string, nodeOutputs map[string]any, entity map[string]any) (any, bool) {
	segments := strings.Split(strings.TrimSpace(token), ".")

	switch segments[0] {
	case "task":
		if entity == nil || len(segments) < 2 {
			return nil, false
		}

		return walkPath(entity, segments[1:])
	case "nodes":
		if nodeOutputs == nil || len(segments) < 3 {
			return nil, false
		}

		output, ok := nodeOutputs[segments[1]]
		if !ok {
			return nil, false
		}

		return walkPath(output, segments[2:])
	default:
		return nil, false
	}
}

func walkPath(root any, path []string) (any, bool) {
	current := root

	for _, segment := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = object[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringifyValue(value any) string {
	switch value.(type) {
	case map[string]any, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}

		return string(encoded)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}
