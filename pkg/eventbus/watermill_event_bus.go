package eventbus

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/contentflow/pkg/events"
)

// decoders maps each event type to a fresh value its payload is decoded into.
var decoders = map[events.EventType]func() any{
	events.ThreadStartedEvent:     func() any { return &events.ThreadStarted{} },
	events.ThreadSuspendedEvent:   func() any { return &events.ThreadSuspended{} },
	events.ThreadResumedEvent:     func() any { return &events.ThreadResumed{} },
	events.ThreadUpdatedEvent:     func() any { return &events.ThreadUpdated{} },
	events.ThreadCompletedEvent:   func() any { return &events.ThreadCompleted{} },
	events.ThreadHumanReviewEvent: func() any { return &events.ThreadHumanReview{} },
	events.ThreadFailedEvent:      func() any { return &events.ThreadFailed{} },
	events.ThreadCancelledEvent:   func() any { return &events.ThreadCancelled{} },
	events.StepCompletedEvent:     func() any { return &events.StepCompleted{} },
	events.QCCompletedEvent:       func() any { return &events.QCCompleted{} },
	events.ApprovalReminderEvent:  func() any { return &events.ApprovalReminder{} },
}

// EventTypes lists every event type the bus can decode, sorted.
func EventTypes() []events.EventType {
	return slices.Sorted(maps.Keys(decoders))
}

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			eb.mu.RLock()
			handler, exists := eb.subscriptions[eventType]
			eb.mu.RUnlock()

			if !exists {
				msg.Ack()

				continue
			}

			decoder, known := decoders[eventType]
			if !known {
				msg.Nack()

				continue
			}

			event := decoder()

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
