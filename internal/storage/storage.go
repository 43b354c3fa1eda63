package storage

import (
	"context"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// Storage is the full persistence surface the pipeline reads and writes
// through. A single SQLite-backed implementation lives in storage/sqlite;
// the interface exists so internal/pipeline, internal/queue, and
// internal/cache depend on behavior, not a driver.
type Storage interface {
	ReportStore
	JobStore
	StageOutputStore
	PipelineVersionStore
	ExtractionRunStore
	CacheStore

	// Close releases the underlying connection(s).
	Close() error
}

// ReportStore persists the user-facing Report entity.
type ReportStore interface {
	CreateReport(ctx context.Context, r *types.Report) error
	GetReport(ctx context.Context, id string) (*types.Report, error)
	UpdateReport(ctx context.Context, r *types.Report) error
	ListReports(ctx context.Context, owner string, limit int) ([]*types.Report, error)
}

// JobStore backs the lease-based work queue. Methods here persist job rows;
// internal/queue layers claim/backoff/dead-letter policy on top.
type JobStore interface {
	EnqueueJob(ctx context.Context, j *types.Job) error
	// GetJobByDedupeKey returns the existing non-terminal job for a dedupe
	// key, or ErrNotFound if none exists — the caller uses this to decide
	// whether to enqueue a new job or fold into the existing one.
	GetJobByDedupeKey(ctx context.Context, dedupeKey string) (*types.Job, error)
	GetJob(ctx context.Context, id string) (*types.Job, error)
	// ClaimNextJob atomically selects and leases one queued, runnable job
	// for the given stage (or any stage, if stage is ""), sets it to
	// leased with the given owner and lease expiry, and returns it.
	// Returns ErrNotFound if no runnable job exists.
	ClaimNextJob(ctx context.Context, stage types.Stage, owner string, leaseFor time.Duration) (*types.Job, error)
	// ReclaimExpiredLeases resets jobs whose lease has expired back to
	// queued, returning how many were reclaimed.
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int, error)
	CompleteJob(ctx context.Context, id string) error
	// FailJob records a failed attempt. If the incremented attempt count is
	// still below MaxAttempts, the job is rescheduled at nextRunAt;
	// otherwise it is dead-lettered.
	FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error
	// DeadLetterJob immediately dead-letters a job regardless of its
	// remaining attempt budget, for error categories that retrying cannot
	// fix (VALIDATION, INTERNAL).
	DeadLetterJob(ctx context.Context, id string, errMsg string) error
	CountJobs(ctx context.Context, stage types.Stage, status types.JobStatus) (int, error)
	OldestQueuedAt(ctx context.Context, stage types.Stage) (time.Time, error)
	ListDeadJobs(ctx context.Context, limit int) ([]*types.Job, error)
}

// StageOutputStore is the content-addressed cache of stage results.
type StageOutputStore interface {
	// GetStageOutput looks up a previously computed output for
	// (reportID, stage, inputHash). Returns ErrNotFound on a cache miss.
	GetStageOutput(ctx context.Context, reportID string, stage types.Stage, inputHash string) (*types.StageOutput, error)
	GetStageOutputByID(ctx context.Context, id string) (*types.StageOutput, error)
	// PutStageOutput inserts a new stage output. Safe to call concurrently
	// for the same (reportID, stage, inputHash): on conflict the existing
	// row is returned instead of erroring, so two racing workers converge
	// on one winner.
	PutStageOutput(ctx context.Context, out *types.StageOutput) (*types.StageOutput, bool, error)
}

// PipelineVersionStore resolves and persists PipelineVersion identities.
type PipelineVersionStore interface {
	GetPipelineVersion(ctx context.Context, id string) (*types.PipelineVersion, error)
	// PutPipelineVersion inserts pv if no row with its ID exists yet and
	// returns the canonical stored row either way (insert-if-absent).
	PutPipelineVersion(ctx context.Context, pv *types.PipelineVersion) (*types.PipelineVersion, error)
}

// ExtractionRunStore persists ExtractionRun snapshots for replay/audit.
type ExtractionRunStore interface {
	CreateExtractionRun(ctx context.Context, run *types.ExtractionRun) error
	GetExtractionRun(ctx context.Context, id string) (*types.ExtractionRun, error)
	ListExtractionRuns(ctx context.Context, reportID string) ([]*types.ExtractionRun, error)
	GetActiveExtractionRun(ctx context.Context, reportID string) (*types.ExtractionRun, error)
	SetActiveExtractionRun(ctx context.Context, reportID, runID string) error
	NextRunIndex(ctx context.Context, reportID string) (int, error)
}

// CacheEntry is one row of a named, TTL-bounded cache. HitCount and
// LastHitAt track reuse after the entry was written; CacheGet bumps both
// on every hit. LastHitAt is zero for an entry never hit since it was
// written.
type CacheEntry struct {
	Cache      string
	Key        string
	Value      []byte
	ExpiresAt  time.Time
	CreatedAt  time.Time
	HitCount   int64
	LastHitAt  time.Time
}

// CacheStore backs the four TTL caches (query, DOI, canonical_record,
// extraction) with one shared schema distinguished by cache name.
type CacheStore interface {
	// CacheGet returns the entry for (cache, key) if present and unexpired
	// as of now. Returns ErrNotFound on a miss or an expired entry.
	CacheGet(ctx context.Context, cache, key string, now time.Time) (*CacheEntry, error)
	CachePut(ctx context.Context, entry CacheEntry) error
	CacheDelete(ctx context.Context, cache, key string) error
	// CacheEvictExpired deletes expired rows from one named cache and
	// returns how many were removed.
	CacheEvictExpired(ctx context.Context, cache string, now time.Time) (int, error)
}
