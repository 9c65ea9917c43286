package graph

import (
	"errors"
	"fmt"
)

// ErrNothingToResume is returned when a thread has no checkpoint to resume from.
var ErrNothingToResume = errors.New("thread has no checkpoint to resume")

// ErrMaxStepsExceeded is recorded on the state when a run hits the step guard.
var ErrMaxStepsExceeded = errors.New("maximum steps per run exceeded")

// PersistenceError reports a checkpoint store failure. The run stops and no
// partial checkpoint is assumed committed.
type PersistenceError struct {
	Op       string
	ThreadID string
	Node     string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("graph %s failed for thread %s at %s: %v", e.Op, e.ThreadID, e.Node, e.Err)
	}

	return fmt.Sprintf("graph %s failed for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err came from the checkpoint store.
func IsPersistenceError(err error) bool {
	var pErr *PersistenceError

	return errors.As(err, &pErr)
}
