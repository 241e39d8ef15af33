package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in migrations.
func Migrate(ctx context.Context, dsn string, migrations fs.FS) error {
	provider, db, err := newMigrationProvider(ctx, dsn, migrations)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("goose up %s: %w", r.Source.Path, r.Error)
		}
	}
	return nil
}

// MigrationStatus lists each known migration and whether it is applied.
func MigrationStatus(ctx context.Context, dsn string, migrations fs.FS) ([]*goose.MigrationStatus, error) {
	provider, db, err := newMigrationProvider(ctx, dsn, migrations)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return provider.Status(ctx)
}

// RollbackLast reverts the most recently applied migration.
func RollbackLast(ctx context.Context, dsn string, migrations fs.FS) error {
	provider, db, err := newMigrationProvider(ctx, dsn, migrations)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

func newMigrationProvider(ctx context.Context, dsn string, migrations fs.FS) (*goose.Provider, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	// NewProvider parses $$-delimited bodies correctly, unlike the legacy goose.Up.
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("goose new provider: %w", err)
	}
	return provider, db, nil
}
