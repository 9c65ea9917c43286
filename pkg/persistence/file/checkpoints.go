package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// CheckpointRepository handles thread and checkpoint file operations.
type CheckpointRepository struct {
	locked

	root string
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(root string) *CheckpointRepository {
	return &CheckpointRepository{root: root}
}

func (r *CheckpointRepository) threadDir(threadID string) string {
	return filepath.Join(r.root, "threads", threadID)
}

func (r *CheckpointRepository) threadFile(threadID string) string {
	return filepath.Join(r.threadDir(threadID), "thread.json")
}

func (r *CheckpointRepository) checkpointDir(threadID string) string {
	return filepath.Join(r.threadDir(threadID), "checkpoints")
}

// CreateThread writes a new thread file.
func (r *CheckpointRepository) CreateThread(_ context.Context, thread *models.Thread) error {
	if err := validateID("thread", thread.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := os.Stat(r.threadFile(thread.ID))
	if err == nil {
		return persistence.NewThreadError("CreateThread", thread.ID, persistence.ErrThreadAlreadyExists)
	}

	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}

	thread.UpdatedAt = now

	return writeJSON(r.threadFile(thread.ID), thread)
}

// GetThread reads a thread file.
func (r *CheckpointRepository) GetThread(_ context.Context, threadID string) (*models.Thread, error) {
	if err := validateID("thread", threadID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.readThread(threadID)
}

func (r *CheckpointRepository) readThread(threadID string) (*models.Thread, error) {
	data, err := os.ReadFile(r.threadFile(threadID)) // #nosec G304 -- threadID is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewThreadError("GetThread", threadID, persistence.ErrThreadNotFound)
		}

		return nil, fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}

	var thread models.Thread

	err = json.Unmarshal(data, &thread)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread %s: %w", threadID, err)
	}

	return &thread, nil
}

// UpdateThreadStatus rewrites the thread status. A non-nil metadata map replaces
// the stored one. A cancelled thread keeps its status.
func (r *CheckpointRepository) UpdateThreadStatus(_ context.Context, threadID string, status models.ThreadStatus, metadata map[string]any) error {
	if err := validateID("thread", threadID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	thread, err := r.readThread(threadID)
	if err != nil {
		return err
	}

	if thread.Status == models.ThreadStatusCancelled && status != models.ThreadStatusCancelled {
		return persistence.NewThreadError("UpdateThreadStatus", threadID, persistence.ErrThreadCancelled)
	}

	thread.Status = status
	if metadata != nil {
		thread.Metadata = metadata
	}

	thread.UpdatedAt = time.Now().UTC()

	return writeJSON(r.threadFile(threadID), thread)
}

// ListThreadsByStatus scans every thread file, oldest update first.
func (r *CheckpointRepository) ListThreadsByStatus(_ context.Context, status models.ThreadStatus) ([]*models.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(r.root, "threads"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Thread{}, nil
		}

		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	threads := make([]*models.Thread, 0)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		thread, err := r.readThread(entry.Name())
		if err != nil {
			if persistence.IsThreadNotFound(err) {
				continue
			}

			return nil, err
		}

		if thread.Status == status {
			threads = append(threads, thread)
		}
	}

	slices.SortFunc(threads, func(a, b *models.Thread) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})

	return threads, nil
}

// DeleteThread removes the thread directory with all its checkpoints.
func (r *CheckpointRepository) DeleteThread(_ context.Context, threadID string) error {
	if err := validateID("thread", threadID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.threadFile(threadID)); os.IsNotExist(err) {
		return persistence.NewThreadError("DeleteThread", threadID, persistence.ErrThreadNotFound)
	}

	err := os.RemoveAll(r.threadDir(threadID))
	if err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}

	return nil
}

// PutCheckpoint writes the checkpoint file, then moves the thread head, under
// the repository lock.
func (r *CheckpointRepository) PutCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	if err := validateID("thread", cp.ThreadID); err != nil {
		return err
	}

	if err := validateID("checkpoint", cp.CheckpointID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	thread, err := r.readThread(cp.ThreadID)
	if err != nil {
		if persistence.IsThreadNotFound(err) {
			return persistence.NewCheckpointError("PutCheckpoint", cp.ThreadID, cp.CheckpointID, persistence.ErrThreadNotFound)
		}

		return err
	}

	if thread.LastCheckpointID != cp.ParentCheckpointID {
		return persistence.NewCheckpointError("PutCheckpoint", cp.ThreadID, cp.CheckpointID, persistence.ErrStaleCheckpoint)
	}

	names, err := r.sweepUncommitted(thread)
	if err != nil {
		return err
	}

	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	name := fmt.Sprintf("%010d_%s.json", len(names)+1, cp.CheckpointID)
	path := filepath.Join(r.checkpointDir(cp.ThreadID), name)

	err = writeJSON(path, cp)
	if err != nil {
		return err
	}

	thread.LastCheckpointID = cp.CheckpointID
	thread.UpdatedAt = cp.CreatedAt

	err = writeJSON(r.threadFile(cp.ThreadID), thread)
	if err != nil {
		// The head did not move, so the checkpoint was never committed.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return errors.Join(err, fmt.Errorf("failed to remove uncommitted checkpoint %s: %w", name, rmErr))
		}

		return err
	}

	return nil
}

// sweepUncommitted removes checkpoint files past the thread head and returns
// the committed ones.
func (r *CheckpointRepository) sweepUncommitted(thread *models.Thread) ([]string, error) {
	all, err := r.checkpointFiles(thread.ID)
	if err != nil {
		return nil, err
	}

	committed, head, err := r.committedFiles(thread.ID)
	if err != nil {
		return nil, err
	}

	if thread.LastCheckpointID != "" && head == "" {
		return nil, persistence.NewCheckpointError("PutCheckpoint", thread.ID, thread.LastCheckpointID,
			fmt.Errorf("%w: head checkpoint file is missing", persistence.ErrCorruptCheckpoint))
	}

	for _, name := range all[len(committed):] {
		err := os.Remove(filepath.Join(r.checkpointDir(thread.ID), name))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove uncommitted checkpoint %s: %w", name, err)
		}
	}

	return committed, nil
}

// committedFiles returns the checkpoint files up to and including the thread
// head, oldest first. Files past the head belong to writes that never moved it.
func (r *CheckpointRepository) committedFiles(threadID string) ([]string, string, error) {
	thread, err := r.readThread(threadID)
	if err != nil {
		if persistence.IsThreadNotFound(err) {
			return nil, "", nil
		}

		return nil, "", err
	}

	if thread.LastCheckpointID == "" {
		return nil, "", nil
	}

	names, err := r.checkpointFiles(threadID)
	if err != nil {
		return nil, "", err
	}

	for i, n := range names {
		if checkpointIDOf(n) == thread.LastCheckpointID {
			return names[:i+1], n, nil
		}
	}

	return nil, "", nil
}

// checkpointIDOf extracts the checkpoint id from a "<seq>_<id>.json" name.
func checkpointIDOf(name string) string {
	_, id, _ := strings.Cut(strings.TrimSuffix(name, ".json"), "_")

	return id
}

// checkpointFiles returns checkpoint file names, oldest first.
func (r *CheckpointRepository) checkpointFiles(threadID string) ([]string, error) {
	entries, err := os.ReadDir(r.checkpointDir(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list checkpoints of %s: %w", threadID, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}

	slices.Sort(names)

	return names, nil
}

func (r *CheckpointRepository) readCheckpoint(threadID, name string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(r.checkpointDir(threadID), name)) // #nosec G304 -- name comes from ReadDir
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", name, err)
	}

	var cp models.Checkpoint

	err = json.Unmarshal(data, &cp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", persistence.ErrCorruptCheckpoint, name, err)
	}

	return &cp, nil
}

// GetCheckpoint returns one committed checkpoint, or the thread head when
// checkpointID is empty.
func (r *CheckpointRepository) GetCheckpoint(_ context.Context, threadID, checkpointID string) (*models.Checkpoint, error) {
	if err := validateID("thread", threadID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names, head, err := r.committedFiles(threadID)
	if err != nil {
		return nil, err
	}

	name := head

	if checkpointID != "" {
		name = ""

		for _, n := range names {
			if checkpointIDOf(n) == checkpointID {
				name = n

				break
			}
		}
	}

	if name == "" {
		return nil, persistence.NewCheckpointError("GetCheckpoint", threadID, checkpointID, persistence.ErrCheckpointNotFound)
	}

	cp, err := r.readCheckpoint(threadID, name)
	if err != nil {
		return nil, persistence.NewCheckpointError("GetCheckpoint", threadID, checkpointID, err)
	}

	return cp, nil
}

// ListCheckpoints returns the thread history, newest first.
func (r *CheckpointRepository) ListCheckpoints(_ context.Context, threadID string) ([]*models.Checkpoint, error) {
	if err := validateID("thread", threadID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names, _, err := r.committedFiles(threadID)
	if err != nil {
		return nil, err
	}

	checkpoints := make([]*models.Checkpoint, 0, len(names))

	for _, name := range slices.Backward(names) {
		cp, err := r.readCheckpoint(threadID, name)
		if err != nil {
			return nil, persistence.NewThreadError("ListCheckpoints", threadID, err)
		}

		checkpoints = append(checkpoints, cp)
	}

	return checkpoints, nil
}
