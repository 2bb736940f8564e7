package cmd

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/taskforge/taskforge/pkg/channels/gochannel"
	"github.com/taskforge/taskforge/pkg/eventbus"
)

// NewEventBus builds the in-process bus used between the HTTP intake and
// the engine activator.
func NewEventBus(logger *slog.Logger) eventbus.EventBus {
	channel := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

	return eventbus.NewWatermillEventBus(channel, channel)
}
