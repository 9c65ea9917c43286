package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/checkpoint"
	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// ReminderScheduler periodically reminds owners of threads that have been
// suspended longer than the configured age. It never times a thread out.
type ReminderScheduler struct {
	store     *checkpoint.Store
	publisher eventbus.EventPublisher
	policy    config.ReminderPolicy
	logger    *slog.Logger
	now       func() time.Time
	cron      *cron.Cron
}

func NewReminderScheduler(store *checkpoint.Store, publisher eventbus.EventPublisher, policy config.ReminderPolicy, logger *slog.Logger) (*ReminderScheduler, error) {
	if _, err := cron.ParseStandard(policy.Schedule); err != nil {
		return nil, fmt.Errorf("invalid reminder schedule %q: %w", policy.Schedule, err)
	}

	return &ReminderScheduler{
		store:     store,
		publisher: publisher,
		policy:    policy,
		logger: logger.With(
			"module", "reminder_scheduler",
			"schedule", policy.Schedule,
			"after", policy.After,
		),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start schedules RunOnce and returns immediately.
func (r *ReminderScheduler) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Starting reminder scheduler")

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(r.policy.Schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "reminder run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add reminder job: %w", err)
	}

	r.cron.Start()

	return nil
}

// Stop waits for a running job to finish.
func (r *ReminderScheduler) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping reminder scheduler")

	if r.cron == nil {
		return nil
	}

	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce publishes one reminder per thread suspended for at least the
// configured age and returns how many were sent.
func (r *ReminderScheduler) RunOnce(ctx context.Context) (int, error) {
	threads, err := r.store.ThreadsByStatus(ctx, models.ThreadStatusSuspended)
	if err != nil {
		return 0, fmt.Errorf("failed to list suspended threads: %w", err)
	}

	now := r.now()
	sent := 0

	for _, thread := range threads {
		since := suspendedSince(thread)

		waiting := now.Sub(since)
		if waiting < r.policy.After {
			continue
		}

		node, _ := thread.Metadata[MetaNode].(string)

		publish(ctx, r.publisher, r.logger, events.ApprovalReminder{
			BaseEvent:      events.NewBaseEvent(events.ApprovalReminderEvent, thread.ID, thread.UserID),
			Node:           node,
			SuspendedSince: since,
			Waiting:        waiting,
		})

		sent++
	}

	r.logger.DebugContext(ctx, "reminders sent", "suspended", len(threads), "sent", sent)

	return sent, nil
}

func suspendedSince(thread *models.Thread) time.Time {
	if raw, ok := thread.Metadata[MetaSuspendedAt].(string); ok {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			return at
		}
	}

	return thread.UpdatedAt
}
