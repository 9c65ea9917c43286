// Package gochannel provides the in-process event channel used by single-binary
// runs and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Config selects how lifecycle events move through the in-process channel.
type Config struct {
	// Buffer is the per-subscriber output buffer.
	Buffer int64

	// Ordered keeps events for late subscribers and makes Publish wait for the
	// subscriber ack, so a watcher sees thread events in step order.
	Ordered bool
}

// DefaultConfig never blocks a running thread on a slow watcher.
func DefaultConfig() Config {
	return Config{Buffer: 1000}
}

// OrderedConfig is used by tests that assert on event order.
func OrderedConfig() Config {
	return Config{Buffer: 10, Ordered: true}
}

// CreateChannel returns one GoChannel as both publisher and subscriber.
func CreateChannel(logger watermill.LoggerAdapter, cfg Config) (*gochannel.GoChannel, *gochannel.GoChannel, error) {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            cfg.Buffer,
			Persistent:                     cfg.Ordered,
			BlockPublishUntilSubscriberAck: cfg.Ordered,
		},
		logger,
	)

	return pubSub, pubSub, nil
}
