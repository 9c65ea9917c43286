// Package eventbus publishes and consumes thread lifecycle events.
package eventbus

import (
	"context"

	"github.com/dukex/contentflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// Keyed events carry their own partition key.
type Keyed interface {
	Key() string
}

// KeyOf returns the partition key of event, or "" when it has none.
func KeyOf(event Event) string {
	if k, ok := event.(Keyed); ok {
		return k.Key()
	}

	return ""
}

// EventPublisher sends events. Events with the same key are delivered in
// publish order.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	// Handle registers the handler for one event type, replacing any previous one.
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event, e.g. *events.ThreadSuspended.
// A returned error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
