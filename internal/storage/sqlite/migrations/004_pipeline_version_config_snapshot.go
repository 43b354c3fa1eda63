package migrations

import (
	"database/sql"
	"fmt"
)

// MigratePipelineVersionConfigSnapshot adds the human-readable TOML
// rendering of the config snapshot a pipeline version's config_hash was
// computed from, so an operator can read back exactly what produced a
// given hash without re-deriving it from live config.
func MigratePipelineVersionConfigSnapshot(db *sql.DB) error {
	exists, err := columnExists(db, "pipeline_versions", "config_snapshot_toml")
	if err != nil {
		return fmt.Errorf("pipeline version config snapshot column: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE pipeline_versions ADD COLUMN config_snapshot_toml TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("pipeline version config snapshot column: %w", err)
	}
	return nil
}
