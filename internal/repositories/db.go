// Package repositories wires the local SQLite cache: it opens the database,
// applies embedded migrations, and hands out the concrete repositories.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Akintomiwa200/aagc-sub000/internal/migrations"
	"github.com/Akintomiwa200/aagc-sub000/internal/repositories/gamification"
	"github.com/Akintomiwa200/aagc-sub000/internal/repositories/snapshots"
)

// Repositories bundles every repository backed by the local database.
type Repositories struct {
	Snapshots    snapshots.Repository
	Gamification gamification.Repository
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the local database, migrates it, and returns the
// repositories plus the handle (the caller owns closing it).
func InitDatabase(ctx context.Context, dsn string) (*Repositories, *sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	repos := &Repositories{
		Snapshots:    snapshots.NewSQLiteRepository(db),
		Gamification: gamification.NewSQLiteRepository(db),
	}
	return repos, db, nil
}
