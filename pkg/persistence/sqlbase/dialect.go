package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the few SQL differences between the supported databases.
// Queries in this package are written with "?" placeholders and rebound.
type Dialect struct {
	Name string

	// numbered reports whether placeholders are written as $1, $2, ...
	numbered bool

	migrationsTable string
}

var (
	Postgres = Dialect{
		Name:     "postgres",
		numbered: true,
		migrationsTable: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);
		`,
	}

	SQLite = Dialect{
		Name: "sqlite",
		migrationsTable: `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);
		`,
	}
)

// Rebind rewrites "?" placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 8)

	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)

			continue
		}

		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}
