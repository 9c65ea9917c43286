package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/google/uuid"
)

// PreferenceRepository stores learned preferences as one JSON file each.
type PreferenceRepository struct {
	locked

	dir string
}

// NewPreferenceRepository creates a new preference repository.
func NewPreferenceRepository(root string) *PreferenceRepository {
	return &PreferenceRepository{dir: filepath.Join(root, "preferences")}
}

// FindPreference returns the best future-applicable preference. A
// profile-specific preference wins over a profile-less one, then usage count.
func (r *PreferenceRepository) FindPreference(_ context.Context, userID, profileID, conflictType string) (*models.LearnedPreference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	var best *models.LearnedPreference

	for _, pref := range all {
		if pref.UserID != userID || pref.ConflictType != conflictType || !pref.ApplyToFuture {
			continue
		}

		if pref.GuidelineProfileID != "" && pref.GuidelineProfileID != profileID {
			continue
		}

		if best == nil || betterPreference(pref, best, profileID) {
			best = pref
		}
	}

	if best == nil {
		return nil, fmt.Errorf("conflict type %s: %w", conflictType, persistence.ErrPreferenceNotFound)
	}

	return best, nil
}

func betterPreference(a, b *models.LearnedPreference, profileID string) bool {
	aSpecific := profileID != "" && a.GuidelineProfileID == profileID
	bSpecific := profileID != "" && b.GuidelineProfileID == profileID

	if aSpecific != bSpecific {
		return aSpecific
	}

	if a.UsageCount != b.UsageCount {
		return a.UsageCount > b.UsageCount
	}

	return a.CreatedAt.Before(b.CreatedAt)
}

// SavePreference writes the preference file.
func (r *PreferenceRepository) SavePreference(_ context.Context, pref *models.LearnedPreference) error {
	if pref.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate preference ID: %w", err)
		}

		pref.ID = id.String()
	}

	if err := validateID("preference", pref.ID); err != nil {
		return err
	}

	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(filepath.Join(r.dir, pref.ID+".json"), pref)
}

// RecordUsage bumps the usage counter of a preference.
func (r *PreferenceRepository) RecordUsage(_ context.Context, preferenceID string, at time.Time) error {
	if err := validateID("preference", preferenceID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, preferenceID+".json")

	pref, err := readPreference(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("preference %s: %w", preferenceID, persistence.ErrPreferenceNotFound)
		}

		return err
	}

	used := at.UTC()
	pref.UsageCount++
	pref.LastUsedAt = &used

	return writeJSON(path, pref)
}

func (r *PreferenceRepository) readAll() ([]*models.LearnedPreference, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}

	prefs := make([]*models.LearnedPreference, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		pref, err := readPreference(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		prefs = append(prefs, pref)
	}

	return prefs, nil
}

func readPreference(path string) (*models.LearnedPreference, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from a validated ID
	if err != nil {
		return nil, err
	}

	var pref models.LearnedPreference

	err = json.Unmarshal(data, &pref)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal preference %s: %w", filepath.Base(path), err)
	}

	return &pref, nil
}
