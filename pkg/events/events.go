// Package events defines the thread lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every contentflow event.
const Topic = "contentflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Thread lifecycle events.
	ThreadStartedEvent     EventType = "thread.started"
	ThreadSuspendedEvent   EventType = "thread.suspended"
	ThreadResumedEvent     EventType = "thread.resumed"
	ThreadUpdatedEvent     EventType = "thread.updated"
	ThreadCompletedEvent   EventType = "thread.completed"
	ThreadHumanReviewEvent EventType = "thread.human_review"
	ThreadFailedEvent      EventType = "thread.failed"
	ThreadCancelledEvent   EventType = "thread.cancelled"

	StepCompletedEvent EventType = "thread.step.completed"

	QCCompletedEvent      EventType = "qc.completed"
	ApprovalReminderEvent EventType = "approval.reminder"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ThreadID  string         `json:"thread_id"`
	UserID    string         `json:"user_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Key partitions events by thread so one thread's events stay ordered.
func (e BaseEvent) Key() string {
	return e.ThreadID
}

type ThreadStarted struct {
	BaseEvent

	Topic     string `json:"topic"`
	SessionID string `json:"session_id,omitempty"`
}

func (e ThreadStarted) GetType() EventType {
	return ThreadStartedEvent
}

// ThreadSuspended is published when a run halts waiting for human input.
type ThreadSuspended struct {
	BaseEvent

	Node         string `json:"node"`
	CheckpointID string `json:"checkpoint_id"`
	Payload      any    `json:"payload,omitempty"`
}

func (e ThreadSuspended) GetType() EventType {
	return ThreadSuspendedEvent
}

type ThreadResumed struct {
	BaseEvent

	CheckpointID string `json:"checkpoint_id"`
	WithInput    bool   `json:"with_input"`
}

func (e ThreadResumed) GetType() EventType {
	return ThreadResumedEvent
}

// ThreadUpdated is published after a manual out-of-band state correction.
type ThreadUpdated struct {
	BaseEvent

	CheckpointID string   `json:"checkpoint_id"`
	Fields       []string `json:"fields"`
}

func (e ThreadUpdated) GetType() EventType {
	return ThreadUpdatedEvent
}

type ThreadCompleted struct {
	BaseEvent

	CheckpointID string `json:"checkpoint_id"`
	QualityScore *int   `json:"quality_score,omitempty"`
	WordCount    int    `json:"word_count"`
}

func (e ThreadCompleted) GetType() EventType {
	return ThreadCompletedEvent
}

type ThreadHumanReview struct {
	BaseEvent

	CheckpointID        string `json:"checkpoint_id"`
	RegenerationCount   int    `json:"regeneration_count"`
	UnresolvedConflicts int    `json:"unresolved_conflicts"`
}

func (e ThreadHumanReview) GetType() EventType {
	return ThreadHumanReviewEvent
}

type ThreadFailed struct {
	BaseEvent

	CheckpointID string              `json:"checkpoint_id,omitempty"`
	Errors       []models.ErrorEntry `json:"errors,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func (e ThreadFailed) GetType() EventType {
	return ThreadFailedEvent
}

type ThreadCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ThreadCancelled) GetType() EventType {
	return ThreadCancelledEvent
}

// StepCompleted is published after every checkpointed step.
type StepCompleted struct {
	BaseEvent

	Step         int    `json:"step"`
	Node         string `json:"node"`
	Next         string `json:"next"`
	CheckpointID string `json:"checkpoint_id"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type QCCompleted struct {
	BaseEvent

	ContentType         string `json:"content_type"`
	OverallScore        int    `json:"overall_score"`
	AgentsRun           int    `json:"agents_run"`
	Conflicts           int    `json:"conflicts"`
	UnresolvedConflicts int    `json:"unresolved_conflicts"`
	RequiresHumanReview bool   `json:"requires_human_review"`
}

func (e QCCompleted) GetType() EventType {
	return QCCompletedEvent
}

// ApprovalReminder nudges the owner of a thread that has been waiting for input.
type ApprovalReminder struct {
	BaseEvent

	Node           string        `json:"node"`
	SuspendedSince time.Time     `json:"suspended_since"`
	Waiting        time.Duration `json:"waiting"`
}

func (e ApprovalReminder) GetType() EventType {
	return ApprovalReminderEvent
}

func NewBaseEvent(eventType EventType, threadID, userID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ThreadID:  threadID,
		UserID:    userID,
		Metadata:  make(map[string]any),
	}
}
