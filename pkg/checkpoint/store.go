// Package checkpoint wraps a persistence backend with state validation.
// Writes are validated softly: a failure is logged and the checkpoint is still
// stored. Reads fail closed: a checkpoint that does not decode or validate is
// reported as absent, and no older checkpoint is substituted.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/google/uuid"
)

type Store struct {
	repo      persistence.CheckpointRepository
	validator *Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a validating store on top of repo.
func NewStore(repo persistence.CheckpointRepository, logger *slog.Logger) *Store {
	return &Store{
		repo:      repo,
		validator: NewValidator(),
		logger:    logger.With("module", "checkpoint_store"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Put stores a new checkpoint whose parent must be the current thread head.
func (s *Store) Put(ctx context.Context, threadID, parentID string, state *models.WorkflowState, meta models.CheckpointMetadata) (*models.Checkpoint, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate checkpoint ID: %w", err)
	}

	cp := &models.Checkpoint{
		ThreadID:           threadID,
		CheckpointID:       id.String(),
		ParentCheckpointID: parentID,
		State:              state.Clone(),
		Metadata:           meta,
		CreatedAt:          s.now(),
	}

	if vErr := s.validator.Checkpoint(cp); vErr != nil {
		s.logger.WarnContext(ctx, "writing checkpoint that failed validation",
			"thread_id", threadID,
			"checkpoint_id", cp.CheckpointID,
			"source", meta.Source,
			"error", vErr,
		)
	}

	err = s.repo.PutCheckpoint(ctx, cp)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "checkpoint written",
		"thread_id", threadID,
		"checkpoint_id", cp.CheckpointID,
		"parent_checkpoint_id", parentID,
		"node", meta.Node,
		"next", meta.Next,
	)

	return cp, nil
}

// Get returns a checkpoint, or the latest one when checkpointID is empty.
func (s *Store) Get(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error) {
	cp, err := s.repo.GetCheckpoint(ctx, threadID, checkpointID)
	if err != nil {
		if persistence.IsCorruptCheckpoint(err) {
			s.logger.ErrorContext(ctx, "checkpoint could not be decoded",
				"thread_id", threadID, "checkpoint_id", checkpointID, "error", err)

			return nil, persistence.NewCheckpointError("Get", threadID, checkpointID,
				fmt.Errorf("%w: %w", persistence.ErrCheckpointNotFound, err))
		}

		return nil, err
	}

	if vErr := s.validator.Checkpoint(cp); vErr != nil {
		s.logger.ErrorContext(ctx, "checkpoint failed validation",
			"thread_id", threadID, "checkpoint_id", cp.CheckpointID, "error", vErr)

		return nil, persistence.NewCheckpointError("Get", threadID, cp.CheckpointID,
			fmt.Errorf("%w: %w", persistence.ErrCheckpointNotFound, vErr))
	}

	return cp, nil
}

// Latest returns the most recent readable checkpoint of the thread.
func (s *Store) Latest(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	return s.Get(ctx, threadID, "")
}

// History returns the thread's checkpoints, newest first. Entries that fail
// validation are left out and logged.
func (s *Store) History(ctx context.Context, threadID string) ([]*models.Checkpoint, error) {
	all, err := s.repo.ListCheckpoints(ctx, threadID)
	if err != nil {
		return nil, err
	}

	valid := make([]*models.Checkpoint, 0, len(all))

	for _, cp := range all {
		if vErr := s.validator.Checkpoint(cp); vErr != nil {
			s.logger.WarnContext(ctx, "omitting invalid checkpoint from history",
				"thread_id", threadID, "checkpoint_id", cp.CheckpointID, "error", vErr)

			continue
		}

		valid = append(valid, cp)
	}

	return valid, nil
}

// ValidateState exposes structural validation for request checking.
func (s *Store) ValidateState(state *models.WorkflowState) error {
	return s.validator.State(state)
}

func (s *Store) CreateThread(ctx context.Context, thread *models.Thread) error {
	return s.repo.CreateThread(ctx, thread)
}

func (s *Store) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	return s.repo.GetThread(ctx, threadID)
}

func (s *Store) SetThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus, metadata map[string]any) error {
	return s.repo.UpdateThreadStatus(ctx, threadID, status, metadata)
}

func (s *Store) ThreadsByStatus(ctx context.Context, status models.ThreadStatus) ([]*models.Thread, error) {
	return s.repo.ListThreadsByStatus(ctx, status)
}

// DeleteThread removes the thread and every checkpoint it owns.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	err := s.repo.DeleteThread(ctx, threadID)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "thread deleted", "thread_id", threadID)

	return nil
}
