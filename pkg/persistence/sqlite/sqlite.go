// Package sqlite provides an embedded SQLite persistence backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/sqlbase"
	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"

// Persistence implements the persistence layer on a SQLite file.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	checkpointRepo *sqlbase.CheckpointRepository
	guidelineRepo  *sqlbase.GuidelineRepository
	preferenceRepo *sqlbase.PreferenceRepository
}

// NewPersistence opens or creates the database at databaseURL (sqlite://path) and runs migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	path := strings.TrimPrefix(databaseURL, "sqlite://")

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	database, err := sql.Open("sqlite", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite serializes writers; one connection keeps compare-and-swap
	// transactions from failing with SQLITE_BUSY.
	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, database, sqlbase.SQLite, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		checkpointRepo: sqlbase.NewCheckpointRepository(database, sqlbase.SQLite, logger),
		guidelineRepo:  sqlbase.NewGuidelineRepository(database, sqlbase.SQLite, logger),
		preferenceRepo: sqlbase.NewPreferenceRepository(database, sqlbase.SQLite, logger),
	}, nil
}

func (p *Persistence) CheckpointRepository() persistence.CheckpointRepository {
	return p.checkpointRepo
}

func (p *Persistence) GuidelineRepository() persistence.GuidelineRepository {
	return p.guidelineRepo
}

func (p *Persistence) PreferenceRepository() persistence.PreferenceRepository {
	return p.preferenceRepo
}

// Close closes the database.
func (p *Persistence) Close(_ context.Context) error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// HealthCheck pings the database.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}

	return nil
}
