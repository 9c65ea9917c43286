package graph

import (
	"context"

	"github.com/dukex/contentflow/pkg/models"
)

// Observer receives engine notifications. Implementations must not block.
type Observer interface {
	StepCompleted(ctx context.Context, threadID string, step int, node string, cp *models.Checkpoint)
	Suspended(ctx context.Context, threadID string, interrupt Interrupt)
	Completed(ctx context.Context, threadID string, s *models.WorkflowState)
}

// NopObserver can be embedded to implement only some notifications.
type NopObserver struct{}

func (NopObserver) StepCompleted(context.Context, string, int, string, *models.Checkpoint) {}
func (NopObserver) Suspended(context.Context, string, Interrupt)                           {}
func (NopObserver) Completed(context.Context, string, *models.WorkflowState)                {}
