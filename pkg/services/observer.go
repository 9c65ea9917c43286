package services

import (
	"context"
	"log/slog"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/models"
)

// StepPublisher is a graph.Observer that publishes a StepCompleted event for
// every checkpointed step. Thread-level events are published by Thread.
type StepPublisher struct {
	graph.NopObserver

	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewStepPublisher(publisher eventbus.EventPublisher, logger *slog.Logger) *StepPublisher {
	return &StepPublisher{
		publisher: publisher,
		logger:    logger.With("module", "step_publisher"),
	}
}

func (p *StepPublisher) StepCompleted(ctx context.Context, threadID string, step int, node string, cp *models.Checkpoint) {
	userID := ""
	if cp.State != nil {
		userID = cp.State.UserID
	}

	publish(ctx, p.publisher, p.logger, events.StepCompleted{
		BaseEvent:    events.NewBaseEvent(events.StepCompletedEvent, threadID, userID),
		Step:         step,
		Node:         node,
		Next:         cp.Metadata.Next,
		CheckpointID: cp.CheckpointID,
	})
}
