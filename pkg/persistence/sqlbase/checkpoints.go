package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// CheckpointRepository stores threads and checkpoints in a SQL database.
type CheckpointRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *CheckpointRepository {
	return &CheckpointRepository{db: db, dialect: dialect, logger: logger}
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *CheckpointRepository) q(query string) string {
	return r.dialect.Rebind(query)
}

func (r *CheckpointRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// CreateThread inserts a new thread.
func (r *CheckpointRepository) CreateThread(ctx context.Context, thread *models.Thread) error {
	now := time.Now().UTC()

	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}

	thread.UpdatedAt = now

	metadataJSON, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal thread metadata: %w", err)
	}

	var exists int

	err = r.db.QueryRowContext(ctx, r.q("SELECT COUNT(*) FROM threads WHERE id = ?"), thread.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check thread existence: %w", err)
	}

	if exists > 0 {
		return persistence.NewThreadError("CreateThread", thread.ID, persistence.ErrThreadAlreadyExists)
	}

	query := `
		INSERT INTO threads (id, user_id, session_id, status, last_checkpoint_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.q(query),
		thread.ID,
		thread.UserID,
		thread.SessionID,
		thread.Status,
		thread.LastCheckpointID,
		string(metadataJSON),
		thread.CreatedAt,
		thread.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert thread: %w", err)
	}

	return nil
}

// GetThread returns a thread by its ID.
func (r *CheckpointRepository) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	query := `
		SELECT
			id
		  , user_id
		  , session_id
		  , status
		  , last_checkpoint_id
		  , metadata
		  , created_at
		  , updated_at
		FROM threads
		WHERE id = ?
	`

	thread, err := r.scanThread(r.db.QueryRowContext(ctx, r.q(query), threadID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewThreadError("GetThread", threadID, persistence.ErrThreadNotFound)
		}

		return nil, fmt.Errorf("failed to scan thread: %w", err)
	}

	return thread, nil
}

// UpdateThreadStatus sets the thread status. A non-nil metadata map replaces
// the stored one. A cancelled thread keeps its status.
func (r *CheckpointRepository) UpdateThreadStatus(ctx context.Context, threadID string, status models.ThreadStatus, metadata map[string]any) error {
	query := "UPDATE threads SET status = ?, updated_at = ?"
	args := []any{status, time.Now().UTC()}

	if metadata != nil {
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal thread metadata: %w", err)
		}

		query += ", metadata = ?"
		args = append(args, string(metadataJSON))
	}

	query += " WHERE id = ?"
	args = append(args, threadID)

	if status != models.ThreadStatusCancelled {
		query += " AND status <> ?"
		args = append(args, models.ThreadStatusCancelled)
	}

	result, err := r.db.ExecContext(ctx, r.q(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update thread status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		return nil
	}

	var current models.ThreadStatus

	err = r.db.QueryRowContext(ctx, r.q("SELECT status FROM threads WHERE id = ?"), threadID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewThreadError("UpdateThreadStatus", threadID, persistence.ErrThreadNotFound)
		}

		return fmt.Errorf("failed to read thread status: %w", err)
	}

	return persistence.NewThreadError("UpdateThreadStatus", threadID, persistence.ErrThreadCancelled)
}

// ListThreadsByStatus returns threads in the given status, oldest update first.
func (r *CheckpointRepository) ListThreadsByStatus(ctx context.Context, status models.ThreadStatus) ([]*models.Thread, error) {
	query := `
		SELECT
			id
		  , user_id
		  , session_id
		  , status
		  , last_checkpoint_id
		  , metadata
		  , created_at
		  , updated_at
		FROM threads
		WHERE status = ?
		ORDER BY updated_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.q(query), status)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}

	defer r.closeRows(ctx, rows)

	threads := make([]*models.Thread, 0)

	for rows.Next() {
		thread, err := r.scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}

		threads = append(threads, thread)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	return threads, nil
}

// DeleteThread removes a thread and all its checkpoints.
func (r *CheckpointRepository) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.q("DELETE FROM checkpoints WHERE thread_id = ?"), threadID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}

	result, err := tx.ExecContext(ctx, r.q("DELETE FROM threads WHERE id = ?"), threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		err = persistence.NewThreadError("DeleteThread", threadID, persistence.ErrThreadNotFound)

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// PutCheckpoint appends a checkpoint and advances the thread head atomically.
func (r *CheckpointRepository) PutCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	metadataJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// The conditional update is the compare-and-swap on the thread head.
	result, err := tx.ExecContext(ctx,
		r.q("UPDATE threads SET last_checkpoint_id = ?, updated_at = ? WHERE id = ? AND last_checkpoint_id = ?"),
		cp.CheckpointID, cp.CreatedAt, cp.ThreadID, cp.ParentCheckpointID,
	)
	if err != nil {
		return fmt.Errorf("failed to advance thread head: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		var exists int

		err = tx.QueryRowContext(ctx, r.q("SELECT COUNT(*) FROM threads WHERE id = ?"), cp.ThreadID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check thread existence: %w", err)
		}

		if exists == 0 {
			err = persistence.NewCheckpointError("PutCheckpoint", cp.ThreadID, cp.CheckpointID, persistence.ErrThreadNotFound)
		} else {
			err = persistence.NewCheckpointError("PutCheckpoint", cp.ThreadID, cp.CheckpointID, persistence.ErrStaleCheckpoint)
		}

		return err
	}

	var seq int64

	err = tx.QueryRowContext(ctx, r.q("SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?"), cp.ThreadID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to compute checkpoint sequence: %w", err)
	}

	query := `
		INSERT INTO checkpoints (thread_id, checkpoint_id, parent_checkpoint_id, seq, state_data, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, r.q(query),
		cp.ThreadID,
		cp.CheckpointID,
		cp.ParentCheckpointID,
		seq,
		string(stateJSON),
		string(metadataJSON),
		cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	return nil
}

const checkpointColumns = `
	thread_id
  , checkpoint_id
  , parent_checkpoint_id
  , state_data
  , metadata
  , created_at
`

// GetCheckpoint returns one checkpoint, or the latest when checkpointID is empty.
func (r *CheckpointRepository) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*models.Checkpoint, error) {
	var row *sql.Row

	if checkpointID == "" {
		row = r.db.QueryRowContext(ctx, r.q(`SELECT `+checkpointColumns+` FROM checkpoints
			WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`), threadID)
	} else {
		row = r.db.QueryRowContext(ctx, r.q(`SELECT `+checkpointColumns+` FROM checkpoints
			WHERE thread_id = ? AND checkpoint_id = ?`), threadID, checkpointID)
	}

	cp, err := r.scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewCheckpointError("GetCheckpoint", threadID, checkpointID, persistence.ErrCheckpointNotFound)
		}

		return nil, persistence.NewCheckpointError("GetCheckpoint", threadID, checkpointID, err)
	}

	return cp, nil
}

// ListCheckpoints returns the thread history, newest first.
func (r *CheckpointRepository) ListCheckpoints(ctx context.Context, threadID string) ([]*models.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+checkpointColumns+` FROM checkpoints
		WHERE thread_id = ? ORDER BY seq DESC`), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}

	defer r.closeRows(ctx, rows)

	checkpoints := make([]*models.Checkpoint, 0)

	for rows.Next() {
		cp, err := r.scanCheckpoint(rows)
		if err != nil {
			return nil, persistence.NewThreadError("ListCheckpoints", threadID, err)
		}

		checkpoints = append(checkpoints, cp)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return checkpoints, nil
}

func (r *CheckpointRepository) scanThread(row scanner) (*models.Thread, error) {
	var (
		thread       models.Thread
		metadataJSON []byte
	)

	err := row.Scan(
		&thread.ID,
		&thread.UserID,
		&thread.SessionID,
		&thread.Status,
		&thread.LastCheckpointID,
		&metadataJSON,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		err = json.Unmarshal(metadataJSON, &thread.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal thread metadata: %w", err)
		}
	}

	return &thread, nil
}

func (r *CheckpointRepository) scanCheckpoint(row scanner) (*models.Checkpoint, error) {
	var (
		cp           models.Checkpoint
		stateJSON    []byte
		metadataJSON []byte
	)

	err := row.Scan(
		&cp.ThreadID,
		&cp.CheckpointID,
		&cp.ParentCheckpointID,
		&stateJSON,
		&metadataJSON,
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(stateJSON, &cp.State)
	if err != nil {
		return nil, fmt.Errorf("%w: state: %w", persistence.ErrCorruptCheckpoint, err)
	}

	err = json.Unmarshal(metadataJSON, &cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", persistence.ErrCorruptCheckpoint, err)
	}

	return &cp, nil
}
