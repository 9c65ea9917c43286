// Package persistence provides the storage abstraction for workflow threads,
// checkpoints, guideline profiles and learned conflict preferences.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/contentflow/pkg/models"
)

type Persistence interface {
	CheckpointRepository() CheckpointRepository
	GuidelineRepository() GuidelineRepository
	PreferenceRepository() PreferenceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// CheckpointRepository stores threads and their append-only checkpoint history.
// Implementations store state bytes as given; validation happens in pkg/checkpoint.
type CheckpointRepository interface {
	CreateThread(ctx context.Context, thread *models.Thread) error
	GetThread(ctx context.Context, threadID string) (*models.Thread, error)
	// UpdateThreadStatus refuses to move a cancelled thread to another status
	// and returns ErrThreadCancelled instead.
	UpdateThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus, metadata map[string]any) error
	ListThreadsByStatus(ctx context.Context, status models.ThreadStatus) ([]*models.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error

	// PutCheckpoint appends cp and moves the thread head to it. The write only
	// succeeds when cp.ParentCheckpointID equals the thread's current head;
	// otherwise it returns ErrStaleCheckpoint and nothing is committed.
	PutCheckpoint(ctx context.Context, cp *models.Checkpoint) error

	// GetCheckpoint returns the checkpoint with the given id, or the most recent
	// one by creation time when checkpointID is empty.
	GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error)

	// ListCheckpoints returns the thread history, newest first.
	ListCheckpoints(ctx context.Context, threadID string) ([]*models.Checkpoint, error)
}

// GuidelineRepository looks up user-owned brand and regulatory profiles.
type GuidelineRepository interface {
	GetProfile(ctx context.Context, userID, profileID string) (*models.GuidelineProfile, error)
	ListProfiles(ctx context.Context, userID string, kind models.GuidelineKind) ([]*models.GuidelineProfile, error)
	SaveProfile(ctx context.Context, profile *models.GuidelineProfile) error
}

// PreferenceRepository stores saved human decisions for conflict types.
type PreferenceRepository interface {
	FindPreference(ctx context.Context, userID, profileID, conflictType string) (*models.LearnedPreference, error)
	SavePreference(ctx context.Context, pref *models.LearnedPreference) error
	RecordUsage(ctx context.Context, preferenceID string, at time.Time) error
}
