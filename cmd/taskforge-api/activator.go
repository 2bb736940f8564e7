package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskforge/taskforge/pkg/eventbus"
	"github.com/taskforge/taskforge/pkg/events"
	"github.com/taskforge/taskforge/pkg/workflow"
)

// Activator consumes domain intake events from the bus and feeds them to
// the engine. It decouples HTTP intake from run execution: the intake
// endpoint answers as soon as the event is on the bus.
type Activator struct {
	engine   *workflow.Engine
	eventBus eventbus.EventBus
	logger   *slog.Logger
}

func NewActivator(engine *workflow.Engine, eventBus eventbus.EventBus, logger *slog.Logger) *Activator {
	return &Activator{
		engine:   engine,
		eventBus: eventBus,
		logger:   logger.With("module", "activator"),
	}
}

// Run registers the intake handlers and starts consuming. It returns once
// the subscription is established; consumption continues until ctx is
// cancelled.
func (a *Activator) Run(ctx context.Context) error {
	err := a.eventBus.Handle(events.TaskChangedEvent, func(ctx context.Context, raw any) error {
		event, ok := raw.(*events.TaskChanged)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for task change", raw)
		}

		a.engine.EvaluateTaskChange(ctx, event.Task, event.OldTask)

		return nil
	})
	if err != nil {
		return err
	}

	err = a.eventBus.Handle(events.ProjectChangedEvent, func(ctx context.Context, raw any) error {
		event, ok := raw.(*events.ProjectChanged)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for project change", raw)
		}

		a.engine.EvaluateProjectChange(ctx, event.ProjectID, event.ChangeType, event.Data)

		return nil
	})
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "Activator subscribed to intake events")

	return a.eventBus.Subscribe(ctx)
}
