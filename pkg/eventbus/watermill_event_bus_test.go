package eventbus_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/contentflow/pkg/channels/gochannel"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{}, gochannel.OrderedConfig())
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversTypedEvents(t *testing.T) {
	bus := newBus(t)
	received := make(chan *events.ThreadSuspended, 1)

	require.NoError(t, bus.Handle(events.ThreadSuspendedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ThreadSuspended)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	sent := events.ThreadSuspended{
		BaseEvent:    events.NewBaseEvent(events.ThreadSuspendedEvent, "thread-1", "user-1"),
		Node:         "await_concept_approval",
		CheckpointID: "cp-1",
	}
	require.NoError(t, bus.Publish(t.Context(), "thread-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "thread-1", got.ThreadID)
		assert.Equal(t, "await_concept_approval", got.Node)
		assert.Equal(t, "cp-1", got.CheckpointID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_SkipsUnhandledTypes(t *testing.T) {
	bus := newBus(t)
	received := make(chan events.EventType, 2)

	require.NoError(t, bus.Handle(events.ThreadCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ThreadCompleted).GetType()

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "thread-1", events.ThreadStarted{
		BaseEvent: events.NewBaseEvent(events.ThreadStartedEvent, "thread-1", "user-1"),
	}))
	require.NoError(t, bus.Publish(t.Context(), "thread-1", events.ThreadCompleted{
		BaseEvent: events.NewBaseEvent(events.ThreadCompletedEvent, "thread-1", "user-1"),
	}))

	select {
	case got := <-received:
		assert.Equal(t, events.ThreadCompletedEvent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	assert.Empty(t, received)
}

func TestEventTypes_CoversLifecycle(t *testing.T) {
	types := eventbus.EventTypes()

	assert.Len(t, types, 11)
	assert.Contains(t, types, events.ApprovalReminderEvent)
	assert.True(t, slices.IsSorted(types))
}
