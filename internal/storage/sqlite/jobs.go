package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

func (s *Storage) EnqueueJob(ctx context.Context, j *types.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, report_id, stage, dedupe_key, payload, status, attempts, max_attempts,
			lease_owner, lease_expires_at, next_run_at, last_error, input_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID, j.ReportID, string(j.Stage), j.DedupeKey, j.Payload, string(j.Status),
		j.Attempts, j.MaxAttempts, j.LeaseOwner, nullTime(j.LeaseExpires),
		j.NextRunAt, nullIfEmpty(j.LastError), j.InputHash, j.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("enqueue job dedupe_key=%s: %w", j.DedupeKey, storage.ErrConflict)
	}
	return storage.WrapDBError("enqueue job", err)
}

func (s *Storage) GetJobByDedupeKey(ctx context.Context, dedupeKey string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+`
		FROM jobs WHERE dedupe_key = ? AND status IN ('queued', 'leased')
	`, dedupeKey)
	return scanJob(row)
}

func (s *Storage) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+`FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ClaimNextJob leases the oldest runnable job for stage (or any stage if
// stage is ""), ordered by next_run_at so jobs whose backoff has elapsed
// are served in roughly FIFO order. SQLite's single-writer serialization
// makes the select-then-update here race-free without a separate
// SELECT ... FOR UPDATE — only one connection is ever writing at a time.
func (s *Storage) ClaimNextJob(ctx context.Context, stage types.Stage, owner string, leaseFor time.Duration) (*types.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.WrapDBError("begin claim tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := jobSelectColumns + `FROM jobs WHERE status = 'queued' AND next_run_at <= ?`
	args := []any{time.Now().UTC()}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, string(stage))
	}
	query += " ORDER BY next_run_at ASC LIMIT 1"

	job, err := scanJob(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	leaseExpires := time.Now().UTC().Add(leaseFor)
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'leased', lease_owner = ?, lease_expires_at = ?
		WHERE id = ? AND status = 'queued'
	`, owner, leaseExpires, job.ID)
	if err != nil {
		return nil, storage.WrapDBError("claim job", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.WrapDBError("commit claim tx", err)
	}

	job.Status = types.JobLeased
	job.LeaseOwner = owner
	job.LeaseExpires = leaseExpires
	return job, nil
}

func (s *Storage) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', lease_owner = ''
		WHERE status = 'leased' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?
	`, now)
	if err != nil {
		return 0, storage.WrapDBError("reclaim expired leases", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.WrapDBError("reclaim expired leases rows affected", err)
	}
	return int(n), nil
}

func (s *Storage) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed' WHERE id = ?`, id)
	if err != nil {
		return storage.WrapDBError("complete job", err)
	}
	return checkRowsAffected(res, "complete job", id)
}

func (s *Storage) FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= max_attempts THEN 'dead' ELSE 'queued' END,
			next_run_at = ?,
			lease_owner = '',
			lease_expires_at = NULL
		WHERE id = ?
	`, errMsg, nextRunAt, id)
	if err != nil {
		return storage.WrapDBError("fail job", err)
	}
	return checkRowsAffected(res, "fail job", id)
}

// DeadLetterJob forces a job straight to dead, bypassing the
// attempts-vs-max_attempts comparison FailJob applies, for errors no retry
// could fix.
func (s *Storage) DeadLetterJob(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			attempts = attempts + 1,
			last_error = ?,
			status = 'dead',
			lease_owner = '',
			lease_expires_at = NULL
		WHERE id = ?
	`, errMsg, id)
	if err != nil {
		return storage.WrapDBError("dead-letter job", err)
	}
	return checkRowsAffected(res, "dead-letter job", id)
}

func (s *Storage) CountJobs(ctx context.Context, stage types.Stage, status types.JobStatus) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE status = ?`
	args := []any{string(status)}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, string(stage))
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, storage.WrapDBError("count jobs", err)
}

func (s *Storage) OldestQueuedAt(ctx context.Context, stage types.Stage) (time.Time, error) {
	query := `SELECT MIN(created_at) FROM jobs WHERE status IN ('queued', 'leased')`
	args := []any{}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, string(stage))
	}
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&t)
	if err != nil {
		return time.Time{}, storage.WrapDBError("oldest queued job", err)
	}
	if !t.Valid {
		return time.Time{}, storage.ErrNotFound
	}
	return t.Time, nil
}

func (s *Storage) ListDeadJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, jobSelectColumns+`
		FROM jobs WHERE status = 'dead' ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, storage.WrapDBError("list dead jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, storage.WrapDBError("iterate dead jobs", rows.Err())
}

const jobSelectColumns = `
	SELECT id, report_id, stage, dedupe_key, payload, status, attempts, max_attempts,
	       lease_owner, lease_expires_at, next_run_at, last_error, input_hash, created_at
`

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		j                       types.Job
		stage, status           string
		leaseExpires            sql.NullTime
		lastError               sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.ReportID, &stage, &j.DedupeKey, &j.Payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.LeaseOwner, &leaseExpires, &j.NextRunAt, &lastError, &j.InputHash, &j.CreatedAt,
	)
	if err != nil {
		return nil, storage.WrapDBError("scan job", err)
	}
	j.Stage = types.Stage(stage)
	j.Status = types.JobStatus(status)
	j.LastError = lastError.String
	if leaseExpires.Valid {
		j.LeaseExpires = leaseExpires.Time
	}
	return &j, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func checkRowsAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storage.WrapDBError(op+" rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", op, id, storage.ErrNotFound)
	}
	return nil
}
