package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// runMigrations brings the schema up to the latest embedded version.
// Neither the migrator nor its driver is closed here: both would close db.
func runMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	source, err := iofs.New(migrationFiles, "migrations/"+d.name)
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}
	defer source.Close()

	var driver database.Driver
	switch d.name {
	case postgresDialect.name:
		conn, err := db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to reserve a migration connection: %w", err)
		}
		defer conn.Close()
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("failed to create database driver: %w", err)
		}
	default:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("failed to create database driver: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", source, d.name, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run %s migrations: %w", d.name, err)
	}
	return nil
}

// schemaVersion reports the applied migration version.
func (s *Store) schemaVersion(ctx context.Context) (uint, error) {
	var version uint
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
