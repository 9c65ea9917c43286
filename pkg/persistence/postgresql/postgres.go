// Package postgresql provides PostgreSQL persistence for threads, checkpoints and guidelines.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	checkpointRepo *sqlbase.CheckpointRepository
	guidelineRepo  *sqlbase.GuidelineRepository
	preferenceRepo *sqlbase.PreferenceRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize components
	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.Postgres, migrations())

	postgres := &Persistence{
		db:             database,
		logger:         logger,
		checkpointRepo: sqlbase.NewCheckpointRepository(database, sqlbase.Postgres, logger),
		guidelineRepo:  sqlbase.NewGuidelineRepository(database, sqlbase.Postgres, logger),
		preferenceRepo: sqlbase.NewPreferenceRepository(database, sqlbase.Postgres, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// DB exposes the underlying connection pool.
func (p *Persistence) DB() *sql.DB {
	return p.db
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

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
