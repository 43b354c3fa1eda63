package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateCacheEntriesHitTracking adds per-entry hit_count/last_hit_at
// columns to cache_entries, so a cache-effectiveness report can tell a
// cold entry nobody has reused from one absorbing most of the lookups for
// its fingerprint.
func MigrateCacheEntriesHitTracking(db *sql.DB) error {
	for _, col := range []struct {
		name string
		ddl  string
	}{
		{"hit_count", `ALTER TABLE cache_entries ADD COLUMN hit_count INTEGER NOT NULL DEFAULT 0`},
		{"last_hit_at", `ALTER TABLE cache_entries ADD COLUMN last_hit_at DATETIME`},
	} {
		exists, err := columnExists(db, "cache_entries", col.name)
		if err != nil {
			return fmt.Errorf("cache entries hit tracking: %w", err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("cache entries hit tracking: %w", err)
		}
	}
	return nil
}

// columnExists reports whether table already has column, via
// PRAGMA table_info — SQLite's ALTER TABLE has no ADD COLUMN IF NOT
// EXISTS form, so every idempotent column addition checks this first.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, fmt.Errorf("scan table info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
