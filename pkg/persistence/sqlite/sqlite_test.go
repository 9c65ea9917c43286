package sqlite_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dukex/contentflow/pkg/log"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/dukex/contentflow/pkg/persistence/persistencetest"
	"github.com/dukex/contentflow/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPersistence(t *testing.T) *sqlite.Persistence {
	t.Helper()

	p, err := sqlite.NewPersistence(t.Context(), log.Discard(), "sqlite://"+filepath.Join(t.TempDir(), "contentflow.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = p.Close(t.Context()) })

	return p
}

func TestPersistence_Contract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return newPersistence(t)
	})
}

func TestNewPersistence_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "contentflow.db")

	first, err := sqlite.NewPersistence(t.Context(), log.Discard(), "sqlite://"+path)
	require.NoError(t, err)
	require.NoError(t, first.Close(t.Context()))

	second, err := sqlite.NewPersistence(t.Context(), log.Discard(), "sqlite://"+path)
	require.NoError(t, err)

	defer func() { _ = second.Close(t.Context()) }()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var applied int

	err = db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM schema_migrations").Scan(&applied)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
}
