// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/contentflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors.
var (
	// ErrInvalidRequest reports a malformed call (missing state, identity change).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrThreadNotFound is returned for unknown threads and for threads owned by
	// someone else, so callers cannot discover foreign thread ids.
	ErrThreadNotFound = persistence.ErrThreadNotFound

	// ErrThreadBusy is returned when another run of the same thread is in flight.
	ErrThreadBusy = errors.New("thread is busy")

	// ErrThreadCancelled is returned when resuming or updating a cancelled thread.
	ErrThreadCancelled = persistence.ErrThreadCancelled

	// ErrThreadFinished is returned when cancelling a thread that already ended.
	ErrThreadFinished = errors.New("thread has finished")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op       string // Operation name
	Code     string // Error code for callers
	ThreadID string // Thread ID if applicable
	Message  string // Human-readable message
	Err      error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	if e.ThreadID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ThreadID, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a caller mistake.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

// IsNotFoundError checks if an error means the thread does not exist for the caller.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrThreadNotFound) || errors.Is(err, persistence.ErrCheckpointNotFound)
}

// IsConflictError checks if an error is a state conflict the caller may retry or give up on.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrThreadBusy) ||
		errors.Is(err, ErrThreadCancelled) ||
		errors.Is(err, ErrThreadFinished) ||
		errors.Is(err, persistence.ErrStaleCheckpoint)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     ErrInvalidRequest,
	}
}

func newThreadError(op, code, threadID string, err error) *ServiceError {
	return &ServiceError{
		Op:       op,
		Code:     code,
		ThreadID: threadID,
		Err:      err,
	}
}
