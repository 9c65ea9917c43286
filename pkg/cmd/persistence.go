// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/file"
	"github.com/dukex/contentflow/pkg/persistence/postgresql"
	"github.com/dukex/contentflow/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"file", "sqlite", "postgres", "postgresql"}

// NewPersistence opens the backend named by the URL scheme of databaseURL.
// guidelinesDir only applies to the file backend.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, guidelinesDir string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "opening persistence", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, databaseURL)
	default:
		root := strings.TrimPrefix(databaseURL, "file://")

		err := os.MkdirAll(root, 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", root, err)
		}

		return file.NewPersistence(root).WithGuidelinesDir(guidelinesDir), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("database url is required, e.g. file://./data or sqlite://./contentflow.db")
	}

	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) == 1 {
		return "file", nil
	}

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider %q (supported: %s)", provider, strings.Join(supportedPersistenceProviders, ", "))
}
