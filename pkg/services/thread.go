package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/checkpoint"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/events"
	"github.com/dukex/contentflow/pkg/graph"
	"github.com/dukex/contentflow/pkg/lock"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/state"
	"github.com/google/uuid"
)

// Thread metadata keys written alongside status changes.
const (
	MetaNode        = "node"
	MetaSuspendedAt = "suspended_at"
	MetaCurrentStep = "current_step"
	MetaReason      = "reason"
	MetaCancelledAt = "cancelled_at"
)

// Caller identifies who drives a thread. UserID is mandatory; SessionID and
// ThreadID are optional on Start.
type Caller struct {
	UserID    string
	SessionID string
	ThreadID  string
}

// Result is where a thread stands after a call.
type Result struct {
	ThreadID     string                `json:"thread_id"`
	CheckpointID string                `json:"checkpoint_id"`
	Status       models.ThreadStatus   `json:"status"`
	State        *models.WorkflowState `json:"state"`
	Interrupt    *graph.Interrupt      `json:"interrupt,omitempty"`
}

// Thread is the external contract over the graph engine: it owns thread
// records, enforces ownership and one run per thread, and publishes lifecycle
// events.
type Thread struct {
	engine    *graph.Engine
	store     *checkpoint.Store
	locker    lock.Locker
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewThread creates a thread service. publisher may be nil.
func NewThread(engine *graph.Engine, store *checkpoint.Store, locker lock.Locker, publisher eventbus.EventPublisher, logger *slog.Logger) *Thread {
	return &Thread{
		engine:    engine,
		store:     store,
		locker:    locker,
		publisher: publisher,
		logger:    logger.With("module", "thread_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a new thread from initial, or a fresh run on top of the caller's
// existing thread when caller.ThreadID names one.
func (t *Thread) Start(ctx context.Context, initial *models.WorkflowState, caller Caller) (*Result, error) {
	const op = "Start"

	if initial == nil {
		return nil, NewValidationError(op, "STATE_REQUIRED", "initial state is required")
	}

	if caller.UserID == "" {
		return nil, NewValidationError(op, "USER_REQUIRED", "caller user id is required")
	}

	if initial.UserID != "" && initial.UserID != caller.UserID {
		return nil, NewValidationError(op, "USER_MISMATCH", "initial state belongs to another user")
	}

	threadID := caller.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	s := initial.Clone()
	s.UserID = caller.UserID
	s.ThreadID = threadID

	if s.SessionID == "" {
		s.SessionID = caller.SessionID
	}

	if s.Status == "" {
		s.Status = models.StatusPending
	}

	err := t.store.ValidateState(s)
	if err != nil {
		return nil, &ServiceError{Op: op, Code: "INVALID_STATE", Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrInvalidRequest, err)}
	}

	release, err := t.acquire(ctx, op, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	parentID, err := t.prepareThread(ctx, op, threadID, s)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "starting thread", "thread_id", threadID, "user_id", s.UserID, "topic", s.Topic)

	t.publish(ctx, events.ThreadStarted{
		BaseEvent: events.NewBaseEvent(events.ThreadStartedEvent, threadID, s.UserID),
		Topic:     s.Topic,
		SessionID: s.SessionID,
	})

	out, err := t.engine.Start(ctx, threadID, parentID, s)

	return t.finish(ctx, op, threadID, s.UserID, out, err)
}

// prepareThread creates the thread record, or reopens an owned one, and
// returns the checkpoint the new run builds on.
func (t *Thread) prepareThread(ctx context.Context, op, threadID string, s *models.WorkflowState) (string, error) {
	existing, err := t.store.GetThread(ctx, threadID)

	switch {
	case err == nil:
		if existing.UserID != s.UserID {
			return "", newThreadError(op, "THREAD_NOT_FOUND", threadID, ErrThreadNotFound)
		}

		if existing.Status == models.ThreadStatusCancelled {
			return "", newThreadError(op, "THREAD_CANCELLED", threadID, ErrThreadCancelled)
		}

		err = t.store.SetThreadStatus(ctx, threadID, models.ThreadStatusProcessing, map[string]any{})
		if err != nil {
			if persistence.IsThreadCancelled(err) {
				return "", newThreadError(op, "THREAD_CANCELLED", threadID, ErrThreadCancelled)
			}

			return "", fmt.Errorf("failed to reopen thread %s: %w", threadID, err)
		}

		return existing.LastCheckpointID, nil

	case persistence.IsThreadNotFound(err):
		err = t.store.CreateThread(ctx, &models.Thread{
			ID:        threadID,
			UserID:    s.UserID,
			SessionID: s.SessionID,
			Status:    models.ThreadStatusProcessing,
		})
		if err != nil {
			return "", fmt.Errorf("failed to create thread %s: %w", threadID, err)
		}

		return "", nil

	default:
		return "", fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
}

// Resume merges update (nil for none) and continues the thread from its last
// checkpoint. Resuming a finished thread returns its final state unchanged.
func (t *Thread) Resume(ctx context.Context, threadID string, caller Caller, update *state.Update) (*Result, error) {
	const op = "Resume"

	thread, err := t.owned(ctx, op, threadID, caller)
	if err != nil {
		return nil, err
	}

	if thread.Status == models.ThreadStatusCancelled {
		return nil, newThreadError(op, "THREAD_CANCELLED", threadID, ErrThreadCancelled)
	}

	if update.TouchesIdentity() {
		return nil, NewValidationError(op, "IDENTITY_CHANGE", "user_id and thread_id cannot be changed")
	}

	if thread.Terminal() {
		return t.current(ctx, op, thread)
	}

	release, err := t.acquire(ctx, op, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	thread, err = t.reload(ctx, op, threadID)
	if err != nil {
		return nil, err
	}

	if thread.Terminal() {
		return t.current(ctx, op, thread)
	}

	t.publish(ctx, events.ThreadResumed{
		BaseEvent:    events.NewBaseEvent(events.ThreadResumedEvent, threadID, thread.UserID),
		CheckpointID: thread.LastCheckpointID,
		WithInput:    !update.Empty(),
	})

	out, err := t.engine.Resume(ctx, threadID, update)

	return t.finish(ctx, op, threadID, thread.UserID, out, err)
}

// GetState returns the latest readable state of the thread.
func (t *Thread) GetState(ctx context.Context, threadID string, caller Caller) (*models.WorkflowState, error) {
	const op = "GetState"

	_, err := t.owned(ctx, op, threadID, caller)
	if err != nil {
		return nil, err
	}

	cp, err := t.store.Latest(ctx, threadID)
	if err != nil {
		if persistence.IsCheckpointNotFound(err) {
			return nil, newThreadError(op, "STATE_NOT_FOUND", threadID, err)
		}

		return nil, fmt.Errorf("failed to load state of thread %s: %w", threadID, err)
	}

	return cp.State, nil
}

// UpdateState records a manual correction without advancing the graph. The
// next Resume picks it up.
func (t *Thread) UpdateState(ctx context.Context, threadID string, caller Caller, update state.Update) (*Result, error) {
	const op = "UpdateState"

	thread, err := t.owned(ctx, op, threadID, caller)
	if err != nil {
		return nil, err
	}

	if thread.Status == models.ThreadStatusCancelled {
		return nil, newThreadError(op, "THREAD_CANCELLED", threadID, ErrThreadCancelled)
	}

	if update.TouchesIdentity() {
		return nil, NewValidationError(op, "IDENTITY_CHANGE", "user_id and thread_id cannot be changed")
	}

	if update.Empty() {
		return nil, NewValidationError(op, "EMPTY_UPDATE", "update changes nothing")
	}

	release, err := t.acquire(ctx, op, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	thread, err = t.reload(ctx, op, threadID)
	if err != nil {
		return nil, err
	}

	cp, err := t.engine.UpdateState(ctx, threadID, update)
	if err != nil {
		return nil, t.runError(op, threadID, err)
	}

	t.publish(ctx, events.ThreadUpdated{
		BaseEvent:    events.NewBaseEvent(events.ThreadUpdatedEvent, threadID, thread.UserID),
		CheckpointID: cp.CheckpointID,
		Fields:       cp.Metadata.Writes,
	})

	return &Result{
		ThreadID:     threadID,
		CheckpointID: cp.CheckpointID,
		Status:       thread.Status,
		State:        cp.State,
	}, nil
}

// Cancel stops a thread from running again. Cancelling twice is a no-op.
// Cancel does not wait for a run in flight: the run ends at its next
// suspension or at the end of the graph and the thread stays cancelled.
func (t *Thread) Cancel(ctx context.Context, threadID string, caller Caller, reason string) error {
	const op = "Cancel"

	thread, err := t.owned(ctx, op, threadID, caller)
	if err != nil {
		return err
	}

	if thread.Status == models.ThreadStatusCancelled {
		return nil
	}

	if thread.Terminal() {
		return newThreadError(op, "THREAD_FINISHED", threadID, ErrThreadFinished)
	}

	err = t.store.SetThreadStatus(ctx, threadID, models.ThreadStatusCancelled, map[string]any{
		MetaReason:      reason,
		MetaCancelledAt: t.now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel thread %s: %w", threadID, err)
	}

	t.logger.InfoContext(ctx, "thread cancelled", "thread_id", threadID, "reason", reason)

	t.publish(ctx, events.ThreadCancelled{
		BaseEvent: events.NewBaseEvent(events.ThreadCancelledEvent, threadID, thread.UserID),
		Reason:    reason,
	})

	return nil
}

// Delete removes a thread and its history. A running thread cannot be deleted.
func (t *Thread) Delete(ctx context.Context, threadID string, caller Caller) error {
	const op = "Delete"

	_, err := t.owned(ctx, op, threadID, caller)
	if err != nil {
		return err
	}

	release, err := t.acquire(ctx, op, threadID)
	if err != nil {
		return err
	}
	defer release()

	err = t.store.DeleteThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}

	return nil
}

// History returns the thread's checkpoints, newest first.
func (t *Thread) History(ctx context.Context, threadID string, caller Caller) ([]*models.Checkpoint, error) {
	const op = "History"

	_, err := t.owned(ctx, op, threadID, caller)
	if err != nil {
		return nil, err
	}

	history, err := t.store.History(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of thread %s: %w", threadID, err)
	}

	return history, nil
}

// owned loads the thread and hides it from anyone but its owner.
func (t *Thread) owned(ctx context.Context, op, threadID string, caller Caller) (*models.Thread, error) {
	if caller.UserID == "" {
		return nil, NewValidationError(op, "USER_REQUIRED", "caller user id is required")
	}

	if threadID == "" {
		return nil, NewValidationError(op, "THREAD_REQUIRED", "thread id is required")
	}

	thread, err := t.store.GetThread(ctx, threadID)
	if err != nil {
		if persistence.IsThreadNotFound(err) {
			return nil, newThreadError(op, "THREAD_NOT_FOUND", threadID, ErrThreadNotFound)
		}

		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	if thread.UserID != caller.UserID {
		t.logger.WarnContext(ctx, "thread requested by another user", "thread_id", threadID, "user_id", caller.UserID)

		return nil, newThreadError(op, "THREAD_NOT_FOUND", threadID, ErrThreadNotFound)
	}

	return thread, nil
}

// reload reads the thread again once the run lock is held, so a Cancel that
// landed before the lock is seen.
func (t *Thread) reload(ctx context.Context, op, threadID string) (*models.Thread, error) {
	thread, err := t.store.GetThread(ctx, threadID)
	if err != nil {
		if persistence.IsThreadNotFound(err) {
			return nil, newThreadError(op, "THREAD_NOT_FOUND", threadID, ErrThreadNotFound)
		}

		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}

	if thread.Status == models.ThreadStatusCancelled {
		return nil, newThreadError(op, "THREAD_CANCELLED", threadID, ErrThreadCancelled)
	}

	return thread, nil
}

func (t *Thread) acquire(ctx context.Context, op, threadID string) (func(), error) {
	release, err := t.locker.TryLock(ctx, threadID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, newThreadError(op, "THREAD_BUSY", threadID, ErrThreadBusy)
		}

		return nil, fmt.Errorf("failed to lock thread %s: %w", threadID, err)
	}

	return release, nil
}

func (t *Thread) current(ctx context.Context, op string, thread *models.Thread) (*Result, error) {
	cp, err := t.store.Latest(ctx, thread.ID)
	if err != nil {
		return nil, newThreadError(op, "STATE_NOT_FOUND", thread.ID, err)
	}

	return &Result{
		ThreadID:     thread.ID,
		CheckpointID: cp.CheckpointID,
		Status:       thread.Status,
		State:        cp.State,
	}, nil
}

// finish records where a run stopped on the thread and announces it.
func (t *Thread) finish(ctx context.Context, op, threadID, userID string, out *graph.Outcome, runErr error) (*Result, error) {
	if runErr != nil {
		t.logger.ErrorContext(ctx, "thread run failed", "thread_id", threadID, "error", runErr)

		if !graph.IsStale(runErr) {
			t.publish(ctx, events.ThreadFailed{
				BaseEvent: events.NewBaseEvent(events.ThreadFailedEvent, threadID, userID),
				Error:     runErr.Error(),
			})
		}

		return nil, t.runError(op, threadID, runErr)
	}

	status, meta := t.statusOf(out)

	err := t.store.SetThreadStatus(ctx, threadID, status, meta)
	if err != nil {
		if !persistence.IsThreadCancelled(err) {
			return nil, fmt.Errorf("failed to record status of thread %s: %w", threadID, err)
		}

		t.logger.InfoContext(ctx, "thread was cancelled during the run", "thread_id", threadID, "checkpoint_id", out.CheckpointID)

		return &Result{
			ThreadID:     threadID,
			CheckpointID: out.CheckpointID,
			Status:       models.ThreadStatusCancelled,
			State:        out.State,
		}, nil
	}

	t.logger.InfoContext(ctx, "thread run stopped", "thread_id", threadID, "status", status, "checkpoint_id", out.CheckpointID)

	t.announce(ctx, threadID, userID, status, out)

	return &Result{
		ThreadID:     threadID,
		CheckpointID: out.CheckpointID,
		Status:       status,
		State:        out.State,
		Interrupt:    out.Interrupt,
	}, nil
}

func (t *Thread) runError(op, threadID string, err error) error {
	switch {
	case graph.IsStale(err):
		return newThreadError(op, "STALE_CHECKPOINT", threadID, err)
	case errors.Is(err, graph.ErrNothingToResume):
		return newThreadError(op, "STATE_NOT_FOUND", threadID, err)
	default:
		return &ServiceError{Op: op, Code: "PERSISTENCE_FAILURE", ThreadID: threadID, Err: err}
	}
}

func (t *Thread) statusOf(out *graph.Outcome) (models.ThreadStatus, map[string]any) {
	s := out.State

	switch {
	case out.Interrupt != nil:
		return models.ThreadStatusSuspended, map[string]any{
			MetaNode:        out.Interrupt.Node,
			MetaSuspendedAt: t.now().Format(time.RFC3339),
		}
	case s.Status == models.StatusCompleted:
		return models.ThreadStatusCompleted, map[string]any{MetaCurrentStep: s.Metadata.CurrentStep}
	case s.Metadata.QualityDecision == models.QualityDecisionHumanReview:
		return models.ThreadStatusHumanReview, map[string]any{MetaCurrentStep: s.Metadata.CurrentStep}
	default:
		return models.ThreadStatusFailed, map[string]any{MetaCurrentStep: s.Metadata.CurrentStep}
	}
}

func (t *Thread) announce(ctx context.Context, threadID, userID string, status models.ThreadStatus, out *graph.Outcome) {
	s := out.State

	switch status {
	case models.ThreadStatusSuspended:
		t.publish(ctx, events.ThreadSuspended{
			BaseEvent:    events.NewBaseEvent(events.ThreadSuspendedEvent, threadID, userID),
			Node:         out.Interrupt.Node,
			CheckpointID: out.CheckpointID,
			Payload:      out.Interrupt.Payload,
		})

	case models.ThreadStatusCompleted:
		event := events.ThreadCompleted{
			BaseEvent:    events.NewBaseEvent(events.ThreadCompletedEvent, threadID, userID),
			CheckpointID: out.CheckpointID,
		}

		if s.ArticleDraft != nil {
			event.QualityScore = s.ArticleDraft.QualityScore
			event.WordCount = s.ArticleDraft.WordCount
		}

		t.publish(ctx, event)

	case models.ThreadStatusHumanReview:
		event := events.ThreadHumanReview{
			BaseEvent:         events.NewBaseEvent(events.ThreadHumanReviewEvent, threadID, userID),
			CheckpointID:      out.CheckpointID,
			RegenerationCount: s.Metadata.RegenerationCount,
		}

		if s.ArticleDraft != nil {
			event.UnresolvedConflicts = s.ArticleDraft.UnresolvedConflicts
		}

		t.publish(ctx, event)

	default:
		t.publish(ctx, events.ThreadFailed{
			BaseEvent:    events.NewBaseEvent(events.ThreadFailedEvent, threadID, userID),
			CheckpointID: out.CheckpointID,
			Errors:       s.Errors,
		})
	}
}

// publish delivers an event; delivery failures are logged, never returned.
func (t *Thread) publish(ctx context.Context, event eventbus.Event) {
	publish(ctx, t.publisher, t.logger, event)
}

func publish(ctx context.Context, publisher eventbus.EventPublisher, logger *slog.Logger, event eventbus.Event) {
	if publisher == nil {
		return
	}

	key := eventbus.KeyOf(event)

	err := publisher.Publish(ctx, key, event)
	if err != nil {
		logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "thread_id", key, "error", err)
	}
}
