package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
)

// GuidelineRepository stores guideline profiles as JSON documents keyed by owner.
type GuidelineRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewGuidelineRepository creates a new guideline repository.
func NewGuidelineRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *GuidelineRepository {
	return &GuidelineRepository{db: db, dialect: dialect, logger: logger}
}

// GetProfile returns a profile owned by userID.
func (r *GuidelineRepository) GetProfile(ctx context.Context, userID, profileID string) (*models.GuidelineProfile, error) {
	var body []byte

	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind("SELECT body FROM guideline_profiles WHERE id = ? AND user_id = ?"),
		profileID, userID,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile %s: %w", profileID, persistence.ErrGuidelineNotFound)
		}

		return nil, fmt.Errorf("failed to query guideline profile: %w", err)
	}

	var profile models.GuidelineProfile

	err = json.Unmarshal(body, &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal guideline profile %s: %w", profileID, err)
	}

	return &profile, nil
}

// ListProfiles returns the user's profiles of one kind, ordered by name.
func (r *GuidelineRepository) ListProfiles(ctx context.Context, userID string, kind models.GuidelineKind) ([]*models.GuidelineProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind("SELECT body FROM guideline_profiles WHERE user_id = ? AND kind = ? ORDER BY name, id"),
		userID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query guideline profiles: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	profiles := make([]*models.GuidelineProfile, 0)

	for rows.Next() {
		var body []byte

		err := rows.Scan(&body)
		if err != nil {
			return nil, fmt.Errorf("failed to scan guideline profile: %w", err)
		}

		var profile models.GuidelineProfile

		err = json.Unmarshal(body, &profile)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal guideline profile: %w", err)
		}

		profiles = append(profiles, &profile)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating guideline profiles: %w", err)
	}

	return profiles, nil
}

// SaveProfile inserts or replaces a profile.
func (r *GuidelineRepository) SaveProfile(ctx context.Context, profile *models.GuidelineProfile) error {
	body, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal guideline profile: %w", err)
	}

	query := `
		INSERT INTO guideline_profiles (id, user_id, kind, name, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			kind = EXCLUDED.kind,
			name = EXCLUDED.name,
			body = EXCLUDED.body
	`

	_, err = r.db.ExecContext(ctx, r.dialect.Rebind(query),
		profile.ID,
		profile.UserID,
		profile.Kind,
		profile.Name,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save guideline profile: %w", err)
	}

	return nil
}
