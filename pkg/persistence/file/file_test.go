package file_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/dukex/contentflow/pkg/persistence/persistencetest"
	"github.com/dukex/contentflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_Contract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return file.NewPersistence("file://" + t.TempDir())
	})
}

func TestCheckpointRepository_RejectsPathTraversal(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	err := p.CheckpointRepository().CreateThread(t.Context(), testutil.CreateTestThread("user-1", func(th *models.Thread) {
		th.ID = "../escape"
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")

	_, err = p.CheckpointRepository().GetCheckpoint(t.Context(), "a/b", "")
	require.Error(t, err)
}

func TestCheckpointRepository_CorruptFileIsReported(t *testing.T) {
	root := t.TempDir()
	p := file.NewPersistence(root)
	repo := p.CheckpointRepository()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(t.Context(), thread))

	cp := testutil.CreateTestCheckpoint(thread.ID, "", testutil.CreateTestState())
	require.NoError(t, repo.PutCheckpoint(t.Context(), cp))

	matches, err := filepath.Glob(filepath.Join(root, "threads", thread.ID, "checkpoints", "*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NoError(t, os.WriteFile(matches[0], []byte("{not json"), 0o600))

	_, err = repo.GetCheckpoint(t.Context(), thread.ID, "")
	assert.True(t, persistence.IsCorruptCheckpoint(err))
}

func TestGuidelineRepository_ReadsHandWrittenYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "user-1"), 0o750))

	doc := `
id: acme-voice
user_id: user-1
kind: brand
name: Acme voice
tone: confident
rules:
  - Prefer short sentences
banned_terms:
  - leverage
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user-1", "acme-voice.yaml"), []byte(doc), 0o600))

	p := file.NewPersistence(t.TempDir()).WithGuidelinesDir(dir)

	profile, err := p.GuidelineRepository().GetProfile(t.Context(), "user-1", "acme-voice")
	require.NoError(t, err)
	assert.Equal(t, models.GuidelineBrand, profile.Kind)
	assert.Equal(t, []string{"leverage"}, profile.BannedTerms)

	_, err = p.GuidelineRepository().GetProfile(t.Context(), "user-2", "acme-voice")
	assert.True(t, persistence.IsGuidelineNotFound(err))
}

func TestCheckpointRepository_FailedHeadMoveIsNotCommitted(t *testing.T) {
	root := t.TempDir()
	repo := file.NewPersistence(root).CheckpointRepository()
	ctx := t.Context()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))

	first := testutil.CreateTestCheckpoint(thread.ID, "", testutil.CreateTestState())
	require.NoError(t, repo.PutCheckpoint(ctx, first))

	// A directory in place of the temp file makes the thread write fail.
	blocker := filepath.Join(root, "threads", thread.ID, "thread.json.tmp")
	require.NoError(t, os.Mkdir(blocker, 0o750))

	second := testutil.CreateTestCheckpoint(thread.ID, first.CheckpointID, testutil.CreateTestState())
	require.Error(t, repo.PutCheckpoint(ctx, second))

	latest, err := repo.GetCheckpoint(ctx, thread.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.CheckpointID, latest.CheckpointID)

	_, err = repo.GetCheckpoint(ctx, thread.ID, second.CheckpointID)
	assert.True(t, persistence.IsCheckpointNotFound(err))

	require.NoError(t, os.Remove(blocker))

	third := testutil.CreateTestCheckpoint(thread.ID, latest.CheckpointID, testutil.CreateTestState())
	require.NoError(t, repo.PutCheckpoint(ctx, third))

	history, err := repo.ListCheckpoints(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, third.CheckpointID, history[0].CheckpointID)
	assert.Equal(t, first.CheckpointID, history[1].CheckpointID)
}

func TestCheckpointRepository_IgnoresFilesPastTheHead(t *testing.T) {
	root := t.TempDir()
	repo := file.NewPersistence(root).CheckpointRepository()
	ctx := t.Context()

	thread := testutil.CreateTestThread("user-1")
	require.NoError(t, repo.CreateThread(ctx, thread))

	first := testutil.CreateTestCheckpoint(thread.ID, "", testutil.CreateTestState())
	require.NoError(t, repo.PutCheckpoint(ctx, first))

	// Left behind by a process that died between the two writes.
	orphan := testutil.CreateTestCheckpoint(thread.ID, first.CheckpointID, testutil.CreateTestState())
	data, err := json.Marshal(orphan)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "threads", thread.ID, "checkpoints", "0000000002_"+orphan.CheckpointID+".json"),
		data, 0o600,
	))

	latest, err := repo.GetCheckpoint(ctx, thread.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.CheckpointID, latest.CheckpointID)

	history, err := repo.ListCheckpoints(ctx, thread.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	next := testutil.CreateTestCheckpoint(thread.ID, latest.CheckpointID, testutil.CreateTestState())
	require.NoError(t, repo.PutCheckpoint(ctx, next))

	latest, err = repo.GetCheckpoint(ctx, thread.ID, "")
	require.NoError(t, err)
	assert.Equal(t, next.CheckpointID, latest.CheckpointID)
}
