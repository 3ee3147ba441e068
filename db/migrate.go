package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// migrationDirs are tried in order from the binary's working directory and
// from the db package itself (tests).
var migrationDirs = []string{"db/migrations", "migrations", "../db/migrations"}

func migrationsSource() (string, error) {
	dirs := migrationDirs
	if p := os.Getenv("MIGRATIONS_PATH"); p != "" {
		dirs = append([]string{p}, dirs...)
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", dir, err)
		}
		return "file://" + abs, nil
	}
	return "", fmt.Errorf("migrations directory not found (tried %v)", dirs)
}

// withMigrator opens a migrate instance on db and hands it to fn. The
// instance is not closed: closing it would close the shared pool.
func withMigrator(db *sql.DB, fn func(m *migrate.Migrate) error) error {
	src, err := migrationsSource()
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	return fn(m)
}

// RunMigrations applies pending versioned migrations. It is idempotent.
func RunMigrations(db *sql.DB) error {
	return withMigrator(db, func(m *migrate.Migrate) error {
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		version, dirty, err := m.Version()
		if err != nil {
			slog.Warn("could not read schema version", slog.String("component", "db_migrate"), slog.Any("err", err))
			return nil
		}
		if dirty {
			return fmt.Errorf("schema is dirty at version %d", version)
		}
		slog.Info("migrations applied", slog.String("component", "db_migrate"), slog.Uint64("version", uint64(version)))
		return nil
	})
}

// MigrateDown rolls back the most recent migration. Rolling back the initial
// migration drops every collected channel and snapshot.
func MigrateDown(db *sql.DB) error {
	return withMigrator(db, func(m *migrate.Migrate) error {
		err := m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		slog.Info("migration rolled back", slog.String("component", "db_migrate"))
		return nil
	})
}

// SchemaVersion reports the applied migration version; zero means none.
func SchemaVersion(db *sql.DB) (version uint, dirty bool, err error) {
	err = withMigrator(db, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			version, dirty = 0, false
			return nil
		}
		return verr
	})
	return version, dirty, err
}
