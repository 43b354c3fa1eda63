package sqlite

import (
	"context"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const stageOutputSelectColumns = `
	SELECT id, report_id, stage, input_hash, output_hash, payload,
	       pipeline_version_id, producer_job_id, created_at
`

func (s *Storage) GetStageOutput(ctx context.Context, reportID string, stage types.Stage, inputHash string) (*types.StageOutput, error) {
	row := s.db.QueryRowContext(ctx, stageOutputSelectColumns+`
		FROM stage_outputs WHERE report_id = ? AND stage = ? AND input_hash = ?
	`, reportID, string(stage), inputHash)
	return scanStageOutput(row)
}

func (s *Storage) GetStageOutputByID(ctx context.Context, id string) (*types.StageOutput, error) {
	row := s.db.QueryRowContext(ctx, stageOutputSelectColumns+`FROM stage_outputs WHERE id = ?`, id)
	return scanStageOutput(row)
}

// PutStageOutput inserts out, unless a row already exists for
// (report_id, stage, input_hash) — in which case that existing row wins
// and ok is false, telling the caller the stage ran redundantly (two
// workers raced the same job, or a retry recomputed an already-cached
// result). Both outcomes return the canonical stored row.
func (s *Storage) PutStageOutput(ctx context.Context, out *types.StageOutput) (*types.StageOutput, bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_outputs (
			id, report_id, stage, input_hash, output_hash, payload,
			pipeline_version_id, producer_job_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.ID, out.ReportID, string(out.Stage), out.InputHash, out.OutputHash, out.Payload,
		out.PipelineVersionID, out.ProducerJobID, out.CreatedAt,
	)
	if err == nil {
		return out, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, storage.WrapDBError("put stage output", err)
	}

	existing, getErr := s.GetStageOutput(ctx, out.ReportID, out.Stage, out.InputHash)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func scanStageOutput(row rowScanner) (*types.StageOutput, error) {
	var (
		out   types.StageOutput
		stage string
	)
	err := row.Scan(
		&out.ID, &out.ReportID, &stage, &out.InputHash, &out.OutputHash, &out.Payload,
		&out.PipelineVersionID, &out.ProducerJobID, &out.CreatedAt,
	)
	if err != nil {
		return nil, storage.WrapDBError("scan stage output", err)
	}
	out.Stage = types.Stage(stage)
	return &out, nil
}
