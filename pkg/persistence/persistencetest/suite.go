// Package persistencetest holds the behaviour every persistence backend must share.
package persistencetest

import (
	"testing"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises a backend against the shared persistence contract.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("threads", func(t *testing.T) { testThreads(t, factory(t)) })
	t.Run("checkpoint chain", func(t *testing.T) { testCheckpointChain(t, factory(t)) })
	t.Run("stale parent is rejected", func(t *testing.T) { testStaleParent(t, factory(t)) })
	t.Run("checkpoint for missing thread", func(t *testing.T) { testMissingThread(t, factory(t)) })
	t.Run("cancelled status is kept", func(t *testing.T) { testCancelledIsSticky(t, factory(t)) })
	t.Run("delete thread removes checkpoints", func(t *testing.T) { testDeleteThread(t, factory(t)) })
	t.Run("guideline profiles", func(t *testing.T) { testGuidelines(t, factory(t)) })
	t.Run("learned preferences", func(t *testing.T) { testPreferences(t, factory(t)) })
}

func testThreads(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.CheckpointRepository()

	require.NoError(t, p.HealthCheck(ctx))

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))

	err := repo.CreateThread(ctx, testutil.CreateTestThread("user-1", func(th *models.Thread) { th.ID = thread.ID }))
	require.ErrorIs(t, err, persistence.ErrThreadAlreadyExists)

	got, err := repo.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, thread.UserID, got.UserID)
	assert.Equal(t, models.ThreadStatusPending, got.Status)
	assert.Empty(t, got.LastCheckpointID)

	_, err = repo.GetThread(ctx, "missing")
	assert.True(t, persistence.IsThreadNotFound(err))

	err = repo.UpdateThreadStatus(ctx, thread.ID, models.ThreadStatusSuspended, map[string]any{"interrupt": "await_concept_selection"})
	require.NoError(t, err)

	suspended, err := repo.ListThreadsByStatus(ctx, models.ThreadStatusSuspended)
	require.NoError(t, err)
	require.Len(t, suspended, 1)
	assert.Equal(t, thread.ID, suspended[0].ID)
	assert.Equal(t, "await_concept_selection", suspended[0].Metadata["interrupt"])

	err = repo.UpdateThreadStatus(ctx, "missing", models.ThreadStatusFailed, nil)
	assert.True(t, persistence.IsThreadNotFound(err))
}

func testCheckpointChain(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.CheckpointRepository()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))

	state := testutil.CreateTestState(testutil.WithUser("user-1"), testutil.WithConcepts(3))

	first := testutil.CreateTestCheckpoint(thread.ID, "", state)
	require.NoError(t, repo.PutCheckpoint(ctx, first))

	next := state.Clone()
	next.SelectedConceptID = "c2"
	second := testutil.CreateTestCheckpoint(thread.ID, first.CheckpointID, next)
	require.NoError(t, repo.PutCheckpoint(ctx, second))

	latest, err := repo.GetCheckpoint(ctx, thread.ID, "")
	require.NoError(t, err)
	assert.Equal(t, second.CheckpointID, latest.CheckpointID)
	assert.Equal(t, first.CheckpointID, latest.ParentCheckpointID)
	assert.Equal(t, "c2", latest.State.SelectedConceptID)
	assert.Equal(t, state.Concepts, latest.State.Concepts)
	assert.Equal(t, models.CheckpointSourceLoop, latest.Metadata.Source)
	require.NotNil(t, latest.Metadata.Step)
	assert.WithinDuration(t, second.CreatedAt, latest.CreatedAt, time.Millisecond)

	byID, err := repo.GetCheckpoint(ctx, thread.ID, first.CheckpointID)
	require.NoError(t, err)
	assert.Empty(t, byID.State.SelectedConceptID)

	history, err := repo.ListCheckpoints(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.CheckpointID, history[0].CheckpointID)
	assert.Equal(t, first.CheckpointID, history[1].CheckpointID)

	got, err := repo.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, second.CheckpointID, got.LastCheckpointID)

	_, err = repo.GetCheckpoint(ctx, thread.ID, "missing")
	assert.True(t, persistence.IsCheckpointNotFound(err))

	_, err = repo.GetCheckpoint(ctx, "no-such-thread", "")
	assert.True(t, persistence.IsCheckpointNotFound(err))
}

func testStaleParent(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.CheckpointRepository()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))

	state := testutil.CreateTestState(testutil.WithUser("user-1"))
	first := testutil.CreateTestCheckpoint(thread.ID, "", state)
	require.NoError(t, repo.PutCheckpoint(ctx, first))

	winner := testutil.CreateTestCheckpoint(thread.ID, first.CheckpointID, state)
	loser := testutil.CreateTestCheckpoint(thread.ID, first.CheckpointID, state)

	require.NoError(t, repo.PutCheckpoint(ctx, winner))

	err := repo.PutCheckpoint(ctx, loser)
	require.Error(t, err)
	assert.True(t, persistence.IsStaleCheckpoint(err))

	history, err := repo.ListCheckpoints(ctx, thread.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "a rejected write must not be committed")

	_, err = repo.GetCheckpoint(ctx, thread.ID, loser.CheckpointID)
	assert.True(t, persistence.IsCheckpointNotFound(err))
}

func testMissingThread(t *testing.T, p persistence.Persistence) {
	cp := testutil.CreateTestCheckpoint("no-such-thread", "", testutil.CreateTestState())

	err := p.CheckpointRepository().PutCheckpoint(t.Context(), cp)
	assert.True(t, persistence.IsThreadNotFound(err))
}

func testCancelledIsSticky(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.CheckpointRepository()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))

	require.NoError(t, repo.UpdateThreadStatus(ctx, thread.ID, models.ThreadStatusCancelled, map[string]any{"reason": "dropped"}))
	require.NoError(t, repo.UpdateThreadStatus(ctx, thread.ID, models.ThreadStatusCancelled, nil))

	err := repo.UpdateThreadStatus(ctx, thread.ID, models.ThreadStatusCompleted, map[string]any{})
	require.Error(t, err)
	assert.True(t, persistence.IsThreadCancelled(err))

	got, err := repo.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatusCancelled, got.Status)
	assert.Equal(t, "dropped", got.Metadata["reason"])
}

func testDeleteThread(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.CheckpointRepository()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))
	require.NoError(t, repo.PutCheckpoint(ctx, testutil.CreateTestCheckpoint(thread.ID, "", testutil.CreateTestState())))

	require.NoError(t, repo.DeleteThread(ctx, thread.ID))

	_, err := repo.GetThread(ctx, thread.ID)
	assert.True(t, persistence.IsThreadNotFound(err))

	_, err = repo.GetCheckpoint(ctx, thread.ID, "")
	assert.True(t, persistence.IsCheckpointNotFound(err))

	err = repo.DeleteThread(ctx, thread.ID)
	assert.True(t, persistence.IsThreadNotFound(err))
}

func testGuidelines(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.GuidelineRepository()

	brand := testutil.CreateTestProfile("user-1")
	reg := testutil.CreateTestProfile("user-1", testutil.WithRegulatoryKind("EU"))
	other := testutil.CreateTestProfile("user-2")

	for _, profile := range []*models.GuidelineProfile{brand, reg, other} {
		require.NoError(t, repo.SaveProfile(ctx, profile))
	}

	got, err := repo.GetProfile(ctx, "user-1", brand.ID)
	require.NoError(t, err)
	assert.Equal(t, brand, got)

	_, err = repo.GetProfile(ctx, "user-1", other.ID)
	assert.True(t, persistence.IsGuidelineNotFound(err), "profiles of other users are invisible")

	regs, err := repo.ListProfiles(ctx, "user-1", models.GuidelineRegulatory)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "EU", regs[0].Jurisdiction)

	brand.Tone = "formal"
	require.NoError(t, repo.SaveProfile(ctx, brand))

	got, err = repo.GetProfile(ctx, "user-1", brand.ID)
	require.NoError(t, err)
	assert.Equal(t, "formal", got.Tone)
}

func testPreferences(t *testing.T, p persistence.Persistence) {
	ctx := t.Context()
	repo := p.PreferenceRepository()

	conflictType := models.ConflictType([]models.AgentType{models.AgentProofreader, models.AgentBrandGuardian})

	_, err := repo.FindPreference(ctx, "user-1", "profile-1", conflictType)
	assert.True(t, persistence.IsPreferenceNotFound(err))

	general := &models.LearnedPreference{
		UserID:             "user-1",
		ConflictType:       conflictType,
		PreferredAgentType: models.AgentProofreader,
		ApplyToFuture:      true,
	}
	require.NoError(t, repo.SavePreference(ctx, general))
	assert.NotEmpty(t, general.ID)

	found, err := repo.FindPreference(ctx, "user-1", "profile-1", conflictType)
	require.NoError(t, err)
	assert.Equal(t, models.AgentProofreader, found.PreferredAgentType)

	specific := &models.LearnedPreference{
		UserID:             "user-1",
		GuidelineProfileID: "profile-1",
		ConflictType:       conflictType,
		PreferredAgentType: models.AgentBrandGuardian,
		ApplyToFuture:      true,
	}
	require.NoError(t, repo.SavePreference(ctx, specific))

	found, err = repo.FindPreference(ctx, "user-1", "profile-1", conflictType)
	require.NoError(t, err)
	assert.Equal(t, models.AgentBrandGuardian, found.PreferredAgentType)

	disabled := &models.LearnedPreference{
		UserID:             "user-2",
		ConflictType:       conflictType,
		PreferredAgentType: models.AgentProofreader,
		ApplyToFuture:      false,
	}
	require.NoError(t, repo.SavePreference(ctx, disabled))

	_, err = repo.FindPreference(ctx, "user-2", "", conflictType)
	assert.True(t, persistence.IsPreferenceNotFound(err))

	require.NoError(t, repo.RecordUsage(ctx, specific.ID, time.Now()))

	found, err = repo.FindPreference(ctx, "user-1", "profile-1", conflictType)
	require.NoError(t, err)
	assert.Equal(t, 1, found.UsageCount)
	assert.NotNil(t, found.LastUsedAt)

	err = repo.RecordUsage(ctx, "missing", time.Now())
	assert.True(t, persistence.IsPreferenceNotFound(err))
}
