// Package file provides file-based persistence for threads, checkpoints and guideline profiles.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/contentflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
//
// Layout under root:
//
//	threads/<thread>/thread.json
//	threads/<thread>/checkpoints/<seq>_<checkpoint>.json
//	guidelines/<user>/<profile>.yaml
//	preferences/<preference>.json
type Persistence struct {
	root           string
	checkpointRepo *CheckpointRepository
	guidelineRepo  *GuidelineRepository
	preferenceRepo *PreferenceRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:           cleanRoot,
		checkpointRepo: NewCheckpointRepository(cleanRoot),
		guidelineRepo:  NewGuidelineRepository(filepath.Join(cleanRoot, "guidelines")),
		preferenceRepo: NewPreferenceRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) CheckpointRepository() persistence.CheckpointRepository {
	return fp.checkpointRepo
}

func (fp *Persistence) GuidelineRepository() persistence.GuidelineRepository {
	return fp.guidelineRepo
}

func (fp *Persistence) PreferenceRepository() persistence.PreferenceRepository {
	return fp.preferenceRepo
}

// WithGuidelinesDir serves guideline profiles from dir instead of root/guidelines.
func (fp *Persistence) WithGuidelinesDir(dir string) *Persistence {
	if dir != "" {
		fp.guidelineRepo = NewGuidelineRepository(dir)
	}

	return fp
}

// validateID validates that an identifier is safe to use as a path element.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID cannot be empty", kind)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("invalid %s ID: contains path traversal characters", kind)
	}

	return nil
}

// writeJSON writes v to path through a temporary file and a rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}

	return nil
}

// locked guards read-modify-write sequences of one repository.
type locked struct {
	mu sync.Mutex
}
