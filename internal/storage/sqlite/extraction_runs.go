package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const extractionRunSelectColumns = `
	SELECT id, report_id, run_index, parent_run_id, trigger, status, engine,
	       config_snapshot, input_hash, output_hash, stats_json, created_at, is_active
`

func (s *Storage) CreateExtractionRun(ctx context.Context, run *types.ExtractionRun) error {
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal extraction stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_runs (
			id, report_id, run_index, parent_run_id, trigger, status, engine,
			config_snapshot, input_hash, output_hash, stats_json, created_at, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.ReportID, run.RunIndex, nullIfEmpty(run.ParentRunID), run.Trigger,
		run.Status, run.Engine, run.ConfigSnapshot, run.InputHash, run.OutputHash,
		string(statsJSON), run.CreatedAt, boolToInt(run.IsActive),
	)
	return storage.WrapDBError("create extraction run", err)
}

func (s *Storage) GetExtractionRun(ctx context.Context, id string) (*types.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, extractionRunSelectColumns+`FROM extraction_runs WHERE id = ?`, id)
	return scanExtractionRun(row)
}

func (s *Storage) ListExtractionRuns(ctx context.Context, reportID string) ([]*types.ExtractionRun, error) {
	rows, err := s.db.QueryContext(ctx, extractionRunSelectColumns+`
		FROM extraction_runs WHERE report_id = ? ORDER BY run_index ASC
	`, reportID)
	if err != nil {
		return nil, storage.WrapDBError("list extraction runs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ExtractionRun
	for rows.Next() {
		run, err := scanExtractionRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, storage.WrapDBError("iterate extraction runs", rows.Err())
}

func (s *Storage) GetActiveExtractionRun(ctx context.Context, reportID string) (*types.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, extractionRunSelectColumns+`
		FROM extraction_runs WHERE report_id = ? AND is_active = 1
	`, reportID)
	return scanExtractionRun(row)
}

// SetActiveExtractionRun clears any previously active run for reportID and
// marks runID active, inside one transaction so readers never observe a
// gap with zero active runs.
func (s *Storage) SetActiveExtractionRun(ctx context.Context, reportID, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapDBError("begin set active run tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE extraction_runs SET is_active = 0 WHERE report_id = ? AND is_active = 1
	`, reportID); err != nil {
		return storage.WrapDBError("clear active run", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE extraction_runs SET is_active = 1 WHERE id = ? AND report_id = ?
	`, runID, reportID)
	if err != nil {
		return storage.WrapDBError("set active run", err)
	}
	if err := checkRowsAffected(res, "set active extraction run", runID); err != nil {
		return err
	}

	return storage.WrapDBError("commit set active run tx", tx.Commit())
}

func (s *Storage) NextRunIndex(ctx context.Context, reportID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(run_index) FROM extraction_runs WHERE report_id = ?
	`, reportID).Scan(&max)
	if err != nil {
		return 0, storage.WrapDBError("next run index", err)
	}
	return int(max.Int64) + 1, nil
}

func scanExtractionRun(row rowScanner) (*types.ExtractionRun, error) {
	var (
		run                     types.ExtractionRun
		parentRunID             sql.NullString
		statsJSON               string
		isActive                int
	)
	err := row.Scan(
		&run.ID, &run.ReportID, &run.RunIndex, &parentRunID, &run.Trigger, &run.Status, &run.Engine,
		&run.ConfigSnapshot, &run.InputHash, &run.OutputHash, &statsJSON, &run.CreatedAt, &isActive,
	)
	if err != nil {
		return nil, storage.WrapDBError("scan extraction run", err)
	}
	run.ParentRunID = parentRunID.String
	run.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(statsJSON), &run.Stats); err != nil {
		return nil, fmt.Errorf("unmarshal extraction stats: %w", err)
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
