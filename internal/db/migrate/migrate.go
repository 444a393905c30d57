// Package migrate applies the embedded schema migrations at startup.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/scottwelch968/Spork-V2-sub003/internal/db"
)

// RunMigrations applies all pending migrations from the embedded schema FS.
// Call this only when a database is configured; pool must not be nil.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return RunMigrationsFromFS(ctx, pool, db.SchemaFiles, "schema")
}

// RunMigrationsFromFS applies all pending migrations from the given fs.FS.
// Exposed for testing; production code should call RunMigrations.
func RunMigrationsFromFS(_ context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string) error {
	if pool == nil {
		return fmt.Errorf("migrate: nil pool, configure database_url before running migrations")
	}

	sqlDB := stdlib.OpenDBFromPool(pool)

	driver, err := pgxv5.WithInstance(sqlDB, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("migrate: create driver: %w", err)
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrate: create source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrate: init: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...any) {
	log.Printf("migrate: "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }
