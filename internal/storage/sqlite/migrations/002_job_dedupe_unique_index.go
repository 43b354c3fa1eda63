package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateJobDedupeUniqueIndex enforces the dedupe-key invariant at the
// database layer: at most one non-terminal job may exist per dedupe_key.
// A partial unique index (rather than a table-wide UNIQUE constraint)
// because completed and dead jobs for the same key must remain queryable
// history.
func MigrateJobDedupeUniqueIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedupe_key_active
		ON jobs(dedupe_key)
		WHERE status IN ('queued', 'leased')
	`)
	if err != nil {
		return fmt.Errorf("job dedupe unique index: %w", err)
	}
	return nil
}
