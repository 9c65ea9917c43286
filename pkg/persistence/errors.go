// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrThreadNotFound indicates a thread was not found by the given identifier.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadAlreadyExists indicates a thread with the same identifier already exists.
	ErrThreadAlreadyExists = errors.New("thread already exists")

	// ErrThreadCancelled indicates a status change on a cancelled thread.
	ErrThreadCancelled = errors.New("thread is cancelled")

	// ErrCheckpointNotFound indicates no readable checkpoint exists for the request.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrStaleCheckpoint indicates a write whose parent is no longer the thread head.
	ErrStaleCheckpoint = errors.New("stale checkpoint")

	// ErrCorruptCheckpoint indicates stored checkpoint data could not be decoded.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

	// ErrGuidelineNotFound indicates a guideline profile was not found for the owner.
	ErrGuidelineNotFound = errors.New("guideline profile not found")

	// ErrPreferenceNotFound indicates no learned preference matches the lookup.
	ErrPreferenceNotFound = errors.New("learned preference not found")
)

// ThreadError wraps thread and checkpoint errors with additional context.
type ThreadError struct {
	Op           string // Operation being performed (e.g., "PutCheckpoint", "GetThread")
	ThreadID     string // Thread ID if applicable
	CheckpointID string // Checkpoint ID if applicable
	Err          error  // Underlying error
}

func (e *ThreadError) Error() string {
	if e.CheckpointID != "" {
		return fmt.Sprintf("%s operation failed for thread %s checkpoint %s: %v", e.Op, e.ThreadID, e.CheckpointID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *ThreadError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for thread errors.
func (e *ThreadError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewThreadError creates a new thread error with context.
func NewThreadError(op, threadID string, err error) *ThreadError {
	return &ThreadError{
		Op:       op,
		ThreadID: threadID,
		Err:      err,
	}
}

// NewCheckpointError creates a new thread error naming a checkpoint.
func NewCheckpointError(op, threadID, checkpointID string, err error) *ThreadError {
	return &ThreadError{
		Op:           op,
		ThreadID:     threadID,
		CheckpointID: checkpointID,
		Err:          err,
	}
}

// IsThreadNotFound checks if an error indicates a thread was not found.
func IsThreadNotFound(err error) bool {
	return errors.Is(err, ErrThreadNotFound)
}

// IsThreadCancelled checks if an error indicates the thread was cancelled.
func IsThreadCancelled(err error) bool {
	return errors.Is(err, ErrThreadCancelled)
}

// IsCheckpointNotFound checks if an error indicates no readable checkpoint exists.
func IsCheckpointNotFound(err error) bool {
	return errors.Is(err, ErrCheckpointNotFound)
}

// IsStaleCheckpoint checks if an error indicates a lost compare-and-swap on the thread head.
func IsStaleCheckpoint(err error) bool {
	return errors.Is(err, ErrStaleCheckpoint)
}

// IsCorruptCheckpoint checks if an error indicates undecodable checkpoint data.
func IsCorruptCheckpoint(err error) bool {
	return errors.Is(err, ErrCorruptCheckpoint)
}

// IsGuidelineNotFound checks if an error indicates a missing guideline profile.
func IsGuidelineNotFound(err error) bool {
	return errors.Is(err, ErrGuidelineNotFound)
}

// IsPreferenceNotFound checks if an error indicates no learned preference exists.
func IsPreferenceNotFound(err error) bool {
	return errors.Is(err, ErrPreferenceNotFound)
}
