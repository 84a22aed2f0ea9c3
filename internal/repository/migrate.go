package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

var gooseDialects = map[string]goose.Dialect{
	"sqlite":   goose.DialectSQLite3,
	"postgres": goose.DialectPostgres,
	"mysql":    goose.DialectMySQL,
}

// MigrationStatus is one row of the migrate status output.
type MigrationStatus struct {
	Version int64
	Source  string
	Applied bool
}

func newProvider(db *sql.DB, dialectName string) (*goose.Provider, error) {
	gd, ok := gooseDialects[dialectName]
	if !ok {
		return nil, fmt.Errorf("no migrations for dialect %q", dialectName)
	}
	dir, err := fs.Sub(migrationsFS, "migrations/"+dialectName)
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", dialectName, err)
	}
	provider, err := goose.NewProvider(gd, db, dir)
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return provider, nil
}

// Migrate applies every pending migration for the store's dialect.
func Migrate(ctx context.Context, s *SQLStore) (int, error) {
	provider, err := newProvider(s.db, s.d.name)
	if err != nil {
		return 0, err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose up: %w", err)
	}
	return len(results), nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, s *SQLStore) error {
	provider, err := newProvider(s.db, s.d.name)
	if err != nil {
		return err
	}
	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// MigrationStatuses lists the known migrations and whether each is applied.
func MigrationStatuses(ctx context.Context, s *SQLStore) ([]MigrationStatus, error) {
	provider, err := newProvider(s.db, s.d.name)
	if err != nil {
		return nil, err
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}

	out := make([]MigrationStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationStatus{
			Version: st.Source.Version,
			Source:  st.Source.Path,
			Applied: st.State == goose.StateApplied,
		})
	}
	return out, nil
}
