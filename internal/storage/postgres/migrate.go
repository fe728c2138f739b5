package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // registers the postgres:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/JakeFAU/keyword-rank-collector/internal/storage/postgres/migrations"
)

// Migrate applies the embedded migrations to the database at dsn, which must
// be a postgres:// URL. The migrations create the default run table only, so
// any other table name is rejected before connecting.
func Migrate(dsn, table string) error {
	if table != "" && table != defaultTable {
		return fmt.Errorf("migrations create table %q, not %q; create %q manually or use the default", defaultTable, table, table)
	}
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
