package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/persistence"
	"gopkg.in/yaml.v3"
)

// GuidelineRepository reads and writes guideline profiles as YAML documents,
// one directory per owner.
type GuidelineRepository struct {
	locked

	dir string
}

// NewGuidelineRepository creates a guideline repository rooted at dir.
func NewGuidelineRepository(dir string) *GuidelineRepository {
	return &GuidelineRepository{dir: dir}
}

// GetProfile reads <dir>/<user>/<profile>.yaml.
func (r *GuidelineRepository) GetProfile(_ context.Context, userID, profileID string) (*models.GuidelineProfile, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}

	if err := validateID("profile", profileID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	profile, err := r.read(filepath.Join(r.dir, userID, profileID+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile %s: %w", profileID, persistence.ErrGuidelineNotFound)
		}

		return nil, err
	}

	// A file placed in the wrong owner's directory is not theirs.
	if profile.UserID != userID {
		return nil, fmt.Errorf("profile %s: %w", profileID, persistence.ErrGuidelineNotFound)
	}

	return profile, nil
}

// ListProfiles returns the user's profiles of one kind, ordered by name.
func (r *GuidelineRepository) ListProfiles(_ context.Context, userID string, kind models.GuidelineKind) ([]*models.GuidelineProfile, error) {
	if err := validateID("user", userID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(r.dir, userID))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.GuidelineProfile{}, nil
		}

		return nil, fmt.Errorf("failed to list guideline profiles: %w", err)
	}

	profiles := make([]*models.GuidelineProfile, 0)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}

		profile, err := r.read(filepath.Join(r.dir, userID, name))
		if err != nil {
			return nil, err
		}

		if profile.Kind == kind && profile.UserID == userID {
			profiles = append(profiles, profile)
		}
	}

	slices.SortFunc(profiles, func(a, b *models.GuidelineProfile) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return profiles, nil
}

// SaveProfile writes the profile as YAML.
func (r *GuidelineRepository) SaveProfile(_ context.Context, profile *models.GuidelineProfile) error {
	if err := validateID("user", profile.UserID); err != nil {
		return err
	}

	if err := validateID("profile", profile.ID); err != nil {
		return err
	}

	data, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal guideline profile %s: %w", profile.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return writeAtomic(filepath.Join(r.dir, profile.UserID, profile.ID+".yaml"), data)
}

func (r *GuidelineRepository) read(path string) (*models.GuidelineProfile, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path elements are validated
	if err != nil {
		return nil, err
	}

	var profile models.GuidelineProfile

	err = yaml.Unmarshal(data, &profile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse guideline profile %s: %w", filepath.Base(path), err)
	}

	return &profile, nil
}
