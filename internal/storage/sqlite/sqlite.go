// Package sqlite is the SQLite-backed implementation of storage.Storage.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite/migrations"
)

var _ storage.Storage = (*Storage)(nil)

// migrationFunc applies one schema change. Each is idempotent: safe to run
// against a database that already has it applied.
type migrationFunc func(db *sql.DB) error

// migrationSequence is the fixed, append-only order migrations run in.
// Never reorder or remove an entry. New runs every entry on each open, so
// each one must stay safe to re-run against a database that already has it.
var migrationSequence = []migrationFunc{
	migrations.MigrateInitSchema,
	migrations.MigrateJobDedupeUniqueIndex,
	migrations.MigrateExtractionRunActiveIndex,
	migrations.MigratePipelineVersionConfigSnapshot,
	migrations.MigrateCacheEntriesHitTracking,
}

// Storage is the SQLite-backed storage.Storage implementation.
type Storage struct {
	db *sql.DB
}

// New opens (creating if absent) a SQLite database at path and applies any
// pending migrations. The connection pool is capped at one connection
// because SQLite serializes writers anyway; reads share that connection
// too, so concurrent callers are served one at a time.
func New(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	for i, m := range migrationSequence {
		if err := m(db); err != nil {
			return fmt.Errorf("migration #%d: %w", i+1, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}
