// Package registry holds the action factories the engine dispatches to and
// validates node configurations against their schemas.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/taskforge/taskforge/pkg/protocol"
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// CreateAction instantiates the action behind actionType. Unknown types are
// reported to the caller, which treats them as skippable configuration.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type %q not registered", actionType)
	}

	return factory.Create(config)
}

// HasAction reports whether actionType is registered.
func (r *Registry) HasAction(actionType string) bool {
	_, ok := r.actionFactories[actionType]

	return ok
}

// ActionIDs returns the registered action types.
func (r *Registry) ActionIDs() []string {
	ids := make([]string, 0, len(r.actionFactories))
	for id := range r.actionFactories {
		ids = append(ids, id)
	}

	return ids
}

// ValidateActionConfig checks an action node configuration against the
// factory's JSON schema. Unknown action types pass validation: the engine
// degrades them to a skip at execution time instead of rejecting the
// definition.
func (r *Registry) ValidateActionConfig(actionType string, config map[string]any) error {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		r.logger.Warn("Unknown action type in definition, will be skipped at runtime", "action_type", actionType)

		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(factory.Schema()),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate %s config: %w", actionType, err)
	}

	if !result.Valid() {
		return fmt.Errorf("invalid %s config: %s", actionType, result.Errors()[0].String())
	}

	return nil
}

// HealthCheck reports whether the registry is usable.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.actionFactories) == 0 {
		return "no actions registered", false
	}

	return fmt.Sprintf("%d actions registered", len(r.actionFactories)), true
}
