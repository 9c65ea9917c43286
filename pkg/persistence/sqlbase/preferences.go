package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/google/uuid"
)

// PreferenceRepository stores learned conflict preferences.
type PreferenceRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewPreferenceRepository creates a new preference repository.
func NewPreferenceRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: db, dialect: dialect, logger: logger}
}

// FindPreference returns the best future-applicable preference for a conflict
// type. A profile-specific preference wins over a profile-less one.
func (r *PreferenceRepository) FindPreference(ctx context.Context, userID, profileID, conflictType string) (*models.LearnedPreference, error) {
	query := `
		SELECT
			id
		  , user_id
		  , guideline_profile_id
		  , conflict_type
		  , preferred_agent_type
		  , apply_to_future
		  , usage_count
		  , last_used_at
		  , created_at
		FROM learned_preferences
		WHERE user_id = ?
		  AND conflict_type = ?
		  AND apply_to_future
		  AND (guideline_profile_id = ? OR guideline_profile_id = '')
		ORDER BY (guideline_profile_id = ?) DESC, usage_count DESC, created_at ASC
		LIMIT 1
	`

	var (
		pref       models.LearnedPreference
		lastUsedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), userID, conflictType, profileID, profileID).Scan(
		&pref.ID,
		&pref.UserID,
		&pref.GuidelineProfileID,
		&pref.ConflictType,
		&pref.PreferredAgentType,
		&pref.ApplyToFuture,
		&pref.UsageCount,
		&lastUsedAt,
		&pref.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conflict type %s: %w", conflictType, persistence.ErrPreferenceNotFound)
		}

		return nil, fmt.Errorf("failed to query learned preference: %w", err)
	}

	if lastUsedAt.Valid {
		pref.LastUsedAt = &lastUsedAt.Time
	}

	return &pref, nil
}

// SavePreference inserts or replaces a preference.
func (r *PreferenceRepository) SavePreference(ctx context.Context, pref *models.LearnedPreference) error {
	if pref.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate preference ID: %w", err)
		}

		pref.ID = id.String()
	}

	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO learned_preferences (id, user_id, guideline_profile_id, conflict_type,
			preferred_agent_type, apply_to_future, usage_count, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			preferred_agent_type = EXCLUDED.preferred_agent_type,
			apply_to_future = EXCLUDED.apply_to_future,
			usage_count = EXCLUDED.usage_count,
			last_used_at = EXCLUDED.last_used_at
	`

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		pref.ID,
		pref.UserID,
		pref.GuidelineProfileID,
		pref.ConflictType,
		pref.PreferredAgentType,
		pref.ApplyToFuture,
		pref.UsageCount,
		pref.LastUsedAt,
		pref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save learned preference: %w", err)
	}

	return nil
}

// RecordUsage bumps the usage counter of a preference.
func (r *PreferenceRepository) RecordUsage(ctx context.Context, preferenceID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind("UPDATE learned_preferences SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?"),
		at.UTC(), preferenceID,
	)
	if err != nil {
		return fmt.Errorf("failed to record preference usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("preference %s: %w", preferenceID, persistence.ErrPreferenceNotFound)
	}

	return nil
}
