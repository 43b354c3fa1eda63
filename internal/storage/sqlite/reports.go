package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// reportBody is everything about a Report beyond its indexed columns,
// serialized as one JSON blob. Splitting the struct this way keeps the
// frequently-filtered columns (status, owner, pipeline_version_id) as real
// SQL columns while avoiding a few dozen narrow columns for fields nothing
// queries by.
type reportBody struct {
	Results              []types.StudyResult    `json:"results,omitempty"`
	PartialResults       []types.StudyResult    `json:"partial_results,omitempty"`
	CanonicalPapers      []types.CanonicalPaper `json:"canonical_papers,omitempty"`
	EvidenceTable        []types.EvidenceRow    `json:"evidence_table,omitempty"`
	Brief                []types.ClaimSentence  `json:"brief,omitempty"`
	Coverage             types.Coverage         `json:"coverage"`
	Stats                types.ReportStats      `json:"stats"`
	ExtractionStats      types.ExtractionStats  `json:"extraction_stats"`
	NormalizedQuery      types.NormalizedQuery  `json:"normalized_query"`
	ProviderSourceCounts map[string]int         `json:"provider_source_counts,omitempty"`
}

func (s *Storage) CreateReport(ctx context.Context, r *types.Report) error {
	reqJSON, err := json.Marshal(r.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	bodyJSON, err := json.Marshal(reportBodyOf(r))
	if err != nil {
		return fmt.Errorf("marshal report body: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (
			id, owner, question, status, pipeline_version_id, active_run_id,
			run_count, run_version, request_json, body_json, error, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Owner, r.Question, string(r.Status), r.PipelineVersionID, r.ActiveRunID,
		r.RunCount, r.RunVersion, string(reqJSON), string(bodyJSON), nullIfEmpty(r.Error),
		r.CreatedAt, r.CompletedAt,
	)
	return storage.WrapDBError("create report", err)
}

func (s *Storage) GetReport(ctx context.Context, id string) (*types.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, question, status, pipeline_version_id, active_run_id,
		       run_count, run_version, request_json, body_json, error, created_at, completed_at
		FROM reports WHERE id = ?
	`, id)
	return scanReport(row)
}

func (s *Storage) UpdateReport(ctx context.Context, r *types.Report) error {
	reqJSON, err := json.Marshal(r.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	bodyJSON, err := json.Marshal(reportBodyOf(r))
	if err != nil {
		return fmt.Errorf("marshal report body: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reports SET
			owner = ?, question = ?, status = ?, pipeline_version_id = ?,
			active_run_id = ?, run_count = ?, run_version = ?,
			request_json = ?, body_json = ?, error = ?, completed_at = ?
		WHERE id = ?
	`,
		r.Owner, r.Question, string(r.Status), r.PipelineVersionID,
		r.ActiveRunID, r.RunCount, r.RunVersion,
		string(reqJSON), string(bodyJSON), nullIfEmpty(r.Error), r.CompletedAt,
		r.ID,
	)
	if err != nil {
		return storage.WrapDBError("update report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storage.WrapDBError("update report rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("update report %s: %w", r.ID, storage.ErrNotFound)
	}
	return nil
}

func (s *Storage) ListReports(ctx context.Context, owner string, limit int) ([]*types.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, owner, question, status, pipeline_version_id, active_run_id,
		       run_count, run_version, request_json, body_json, error, created_at, completed_at
		FROM reports
	`
	args := []any{}
	if owner != "" {
		query += " WHERE owner = ?"
		args = append(args, owner)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.WrapDBError("list reports", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, storage.WrapDBError("iterate reports", rows.Err())
}

// rowScanner covers both *sql.Row and *sql.Rows for scanReport.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*types.Report, error) {
	var (
		r                           types.Report
		status                      string
		reqJSON, bodyJSON           string
		activeRunID, errMsg         sql.NullString
		completedAt                 sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.Owner, &r.Question, &status, &r.PipelineVersionID, &activeRunID,
		&r.RunCount, &r.RunVersion, &reqJSON, &bodyJSON, &errMsg, &r.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, storage.WrapDBError("scan report", err)
	}
	r.Status = types.ReportStatus(status)
	r.ActiveRunID = activeRunID.String
	r.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(reqJSON), &r.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	var body reportBody
	if err := json.Unmarshal([]byte(bodyJSON), &body); err != nil {
		return nil, fmt.Errorf("unmarshal report body: %w", err)
	}
	r.Results = body.Results
	r.PartialResults = body.PartialResults
	r.CanonicalPapers = body.CanonicalPapers
	r.EvidenceTable = body.EvidenceTable
	r.Brief = body.Brief
	r.Coverage = body.Coverage
	r.Stats = body.Stats
	r.ExtractionStats = body.ExtractionStats
	r.NormalizedQuery = body.NormalizedQuery
	r.ProviderSourceCounts = body.ProviderSourceCounts
	return &r, nil
}

func reportBodyOf(r *types.Report) reportBody {
	return reportBody{
		Results:              r.Results,
		PartialResults:       r.PartialResults,
		CanonicalPapers:      r.CanonicalPapers,
		EvidenceTable:        r.EvidenceTable,
		Brief:                r.Brief,
		Coverage:             r.Coverage,
		Stats:                r.Stats,
		ExtractionStats:      r.ExtractionStats,
		NormalizedQuery:      r.NormalizedQuery,
		ProviderSourceCounts: r.ProviderSourceCounts,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
