package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/contentflow/pkg/channels/kafka"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func TestWatermillEventBus_Kafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Kafka container test in short mode")
	}

	ctx := t.Context()

	container, err := kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_CREATE_TOPICS": "true",
	}))
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	pub, sub, err := kafka.CreateChannel(watermill.NopLogger{}, brokers, "contentflow-test")
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan *events.ApprovalReminder, 1)

	require.NoError(t, bus.Handle(events.ApprovalReminderEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ApprovalReminder)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "thread-1", events.ApprovalReminder{
		BaseEvent: events.NewBaseEvent(events.ApprovalReminderEvent, "thread-1", "user-1"),
		Node:      "await_subtopic_approval",
		Waiting:   25 * time.Hour,
	}))

	select {
	case got := <-received:
		assert.Equal(t, "await_subtopic_approval", got.Node)
		assert.Equal(t, 25*time.Hour, got.Waiting)
	case <-time.After(60 * time.Second):
		t.Fatal("event was not delivered through Kafka")
	}
}
