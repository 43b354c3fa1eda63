package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateExtractionRunActiveIndex ensures at most one extraction run per
// report is marked active at a time, so SetActiveExtractionRun's
// clear-then-set can be trusted instead of re-verified on every read.
func MigrateExtractionRunActiveIndex(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_extraction_runs_one_active
		ON extraction_runs(report_id)
		WHERE is_active = 1
	`)
	if err != nil {
		return fmt.Errorf("extraction run active index: %w", err)
	}
	return nil
}
