package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateInitSchema creates the base tables every other migration builds
// on: reports, jobs, stage_outputs, pipeline_versions, extraction_runs,
// cache_entries, and a generic config KV table. Idempotent — safe to run
// against an already-initialized database.
func MigrateInitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS pipeline_versions (
			id TEXT PRIMARY KEY,
			prompt_manifest_hash TEXT NOT NULL,
			extractor_bundle_hash TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			seed INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL,
			status TEXT NOT NULL,
			pipeline_version_id TEXT NOT NULL REFERENCES pipeline_versions(id),
			active_run_id TEXT,
			run_count INTEGER NOT NULL DEFAULT 0,
			run_version INTEGER NOT NULL DEFAULT 0,
			request_json TEXT NOT NULL,
			body_json TEXT NOT NULL DEFAULT '{}',
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_owner_created ON reports(owner, created_at)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			report_id TEXT NOT NULL REFERENCES reports(id),
			stage TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			payload BLOB,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 5,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_expires_at DATETIME,
			next_run_at DATETIME NOT NULL,
			last_error TEXT,
			input_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_stage_status_next_run ON jobs(stage, status, next_run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_report ON jobs(report_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_lease_expires ON jobs(status, lease_expires_at)`,

		`CREATE TABLE IF NOT EXISTS stage_outputs (
			id TEXT PRIMARY KEY,
			report_id TEXT NOT NULL REFERENCES reports(id),
			stage TEXT NOT NULL,
			input_hash TEXT NOT NULL,
			output_hash TEXT NOT NULL,
			payload BLOB NOT NULL,
			pipeline_version_id TEXT NOT NULL REFERENCES pipeline_versions(id),
			producer_job_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(report_id, stage, input_hash)
		)`,

		`CREATE TABLE IF NOT EXISTS extraction_runs (
			id TEXT PRIMARY KEY,
			report_id TEXT NOT NULL REFERENCES reports(id),
			run_index INTEGER NOT NULL,
			parent_run_id TEXT,
			trigger TEXT NOT NULL,
			status TEXT NOT NULL,
			engine TEXT NOT NULL,
			config_snapshot BLOB,
			input_hash TEXT NOT NULL DEFAULT '',
			output_hash TEXT NOT NULL DEFAULT '',
			stats_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_active INTEGER NOT NULL DEFAULT 0,
			UNIQUE(report_id, run_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_runs_report ON extraction_runs(report_id)`,

		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (cache, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries(cache, expires_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
