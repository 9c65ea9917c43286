package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		threadErr := persistence.NewThreadError("GetThread", "thread-123", persistence.ErrThreadNotFound)
		staleErr := persistence.NewCheckpointError("PutCheckpoint", "thread-123", "cp-2", persistence.ErrStaleCheckpoint)

		assert.True(t, persistence.IsThreadNotFound(threadErr))
		assert.True(t, persistence.IsStaleCheckpoint(staleErr))
		assert.False(t, persistence.IsCheckpointNotFound(staleErr))

		// Test error unwrapping
		assert.True(t, errors.Is(threadErr, persistence.ErrThreadNotFound))
		assert.True(t, errors.Is(fmt.Errorf("resume: %w", staleErr), persistence.ErrStaleCheckpoint))
	})

	t.Run("corrupt checkpoint survives double wrapping", func(t *testing.T) {
		inner := fmt.Errorf("%w: state: %w", persistence.ErrCorruptCheckpoint, errors.New("unexpected EOF"))
		err := persistence.NewCheckpointError("GetCheckpoint", "thread-1", "cp-1", inner)

		assert.True(t, persistence.IsCorruptCheckpoint(err))
	})

	t.Run("thread error contains context", func(t *testing.T) {
		err := persistence.NewCheckpointError("PutCheckpoint", "thread-123", "cp-9", persistence.ErrStaleCheckpoint)

		assert.Contains(t, err.Error(), "PutCheckpoint")
		assert.Contains(t, err.Error(), "thread-123")
		assert.Contains(t, err.Error(), "cp-9")
		assert.Contains(t, err.Error(), "stale checkpoint")

		var threadErr *persistence.ThreadError
		assert.True(t, errors.As(err, &threadErr))
		assert.Equal(t, "thread-123", threadErr.ThreadID)
	})
}
