// Package gochannel provides the in-memory watermill channel used by the
// single-process deployment and by tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel returns a GoChannel pubsub usable as both publisher and
// subscriber. Execution stays in-process, so an in-memory channel is the
// only transport the engine needs.
func CreateChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 1000,
			Persistent:          false,
		},
		logger,
	)
}

// CreateTestChannel returns a pubsub tuned for deterministic tests: small
// buffer, persistent messages, publish blocks until the subscriber acks.
func CreateTestChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            10,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: true,
		},
		logger,
	)
}
