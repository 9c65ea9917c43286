package services

import (
	"context"
	"log/slog"

	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/qc"
)

// Reviewer runs quality control and announces every finished run.
type Reviewer struct {
	qc        *qc.Service
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewReviewer(service *qc.Service, publisher eventbus.EventPublisher, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		qc:        service,
		publisher: publisher,
		logger:    logger.With("module", "reviewer"),
	}
}

// Run is qc.Service.Run followed by a QCCompleted event. Errors are returned
// unchanged; invalid requests wrap qc.ErrInvalidRequest.
func (r *Reviewer) Run(ctx context.Context, req qc.Request, caller qc.Caller) (*models.QCState, error) {
	result, err := r.qc.Run(ctx, req, caller)
	if err != nil {
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		userID = caller.UserID
	}

	publish(ctx, r.publisher, r.logger, events.QCCompleted{
		BaseEvent:           events.NewBaseEvent(events.QCCompletedEvent, caller.ThreadID, userID),
		ContentType:         result.ContentType,
		OverallScore:        result.OverallScore,
		AgentsRun:           result.Summary.AgentsRun,
		Conflicts:           len(result.Conflicts),
		UnresolvedConflicts: len(result.UnresolvedConflicts),
		RequiresHumanReview: result.RequiresHumanReview,
	})

	return result, nil
}
