// Package queue implements the lease-based job scheduler every pipeline
// stage enqueues work onto and workers drain from. It is a thin policy
// layer over storage.Storage: dedupe-key folding, exponential backoff with
// jitter on failure, dead-lettering past max attempts, and queue-depth
// telemetry all live here rather than in the storage interface itself.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/telemetry"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// DefaultMaxAttempts is how many leased attempts a job gets before it is
// dead-lettered.
const DefaultMaxAttempts = 5

// DefaultLeaseDuration bounds how long a worker may hold a job before its
// lease is considered expired and eligible for reclaim.
const DefaultLeaseDuration = 2 * time.Minute

// Queue wraps a storage.Storage with job-scheduling policy.
type Queue struct {
	store       storage.Storage
	maxAttempts int
	leaseFor    time.Duration
}

// New constructs a Queue over store with default attempt/lease policy.
func New(store storage.Storage) *Queue {
	return &Queue{store: store, maxAttempts: DefaultMaxAttempts, leaseFor: DefaultLeaseDuration}
}

// EnqueueParams describes one unit of work to schedule.
type EnqueueParams struct {
	ReportID  string
	Stage     types.Stage
	DedupeKey string
	InputHash string
	Payload   []byte
}

// Enqueue schedules a job, folding into an existing non-terminal job for
// the same dedupe key instead of creating a duplicate — this is what lets
// two concurrent triggers for the same (report, stage, input) converge on
// one execution rather than running the stage twice.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*types.Job, error) {
	if existing, err := q.store.GetJobByDedupeKey(ctx, p.DedupeKey); err == nil {
		return existing, nil
	} else if !storage.IsNotFound(err) {
		return nil, fmt.Errorf("queue: check existing job: %w", err)
	}

	job := &types.Job{
		ID:          idgen.WithPrefix("job", idgen.NewUUID()),
		ReportID:    p.ReportID,
		Stage:       p.Stage,
		DedupeKey:   p.DedupeKey,
		InputHash:   p.InputHash,
		Payload:     p.Payload,
		Status:      types.JobQueued,
		MaxAttempts: q.maxAttempts,
		NextRunAt:   time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.store.EnqueueJob(ctx, job); err != nil {
		if storage.IsConflict(err) {
			// Lost the race to a concurrent enqueue for the same key;
			// the winner's job is what the caller should observe.
			if existing, getErr := q.store.GetJobByDedupeKey(ctx, p.DedupeKey); getErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("queue: enqueue job: %w", err)
	}

	telemetry.DefaultEvents.Dispatch(ctx, telemetry.StageEvent{
		Kind: telemetry.EventStart, TraceID: job.ID, ReportID: job.ReportID,
		Stage: string(job.Stage), InputHash: job.InputHash,
	})
	return job, nil
}

// Claim leases the next runnable job for stage (any stage if empty).
// Returns storage.ErrNotFound if the queue for that stage is empty.
func (q *Queue) Claim(ctx context.Context, stage types.Stage, owner string) (*types.Job, error) {
	job, err := q.store.ClaimNextJob(ctx, stage, owner, q.leaseFor)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks job done and emits its SUCCESS event.
func (q *Queue) Complete(ctx context.Context, job *types.Job, outputHash string) error {
	if err := q.store.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("queue: complete job: %w", err)
	}
	telemetry.DefaultEvents.Dispatch(ctx, telemetry.StageEvent{
		Kind: telemetry.EventSuccess, TraceID: job.ID, ReportID: job.ReportID,
		Stage: string(job.Stage), InputHash: job.InputHash, OutputHash: outputHash,
	})
	return nil
}

// Fail records a failed attempt, rescheduling with exponential backoff and
// jitter or dead-lettering once this failure brings the job's attempt
// count to MaxAttempts.
func (q *Queue) Fail(ctx context.Context, job *types.Job, cause error) error {
	nextRunAt := time.Now().UTC().Add(backoffDelay(job.ID, job.Attempts))
	if err := q.store.FailJob(ctx, job.ID, cause.Error(), nextRunAt); err != nil {
		return fmt.Errorf("queue: fail job: %w", err)
	}

	telemetry.DefaultEvents.Dispatch(ctx, telemetry.StageEvent{
		Kind: telemetry.EventFailure, TraceID: job.ID, ReportID: job.ReportID,
		Stage: string(job.Stage), InputHash: job.InputHash, ErrorCode: cause.Error(),
	})
	return nil
}

// FailTerminal immediately dead-letters job without consuming its retry
// budget, for error categories a retry cannot fix.
func (q *Queue) FailTerminal(ctx context.Context, job *types.Job, cause error) error {
	if err := q.store.DeadLetterJob(ctx, job.ID, cause.Error()); err != nil {
		return fmt.Errorf("queue: dead-letter job: %w", err)
	}
	telemetry.DefaultEvents.Dispatch(ctx, telemetry.StageEvent{
		Kind: telemetry.EventFailure, TraceID: job.ID, ReportID: job.ReportID,
		Stage: string(job.Stage), InputHash: job.InputHash, ErrorCode: cause.Error(),
	})
	return nil
}

// backoffDelay computes the exponential-with-jitter delay before the next
// attempt after `attempt` prior failures of jobID, using the same curve
// shape as backoff.ExponentialBackOff but capped for in-process reuse per
// job rather than one BackOff instance per retry loop: base 1s, multiplier
// 2, cap 60s. Jitter is deterministic — seeded from jobID and attempt
// rather than the global rand source — so retrying the same failed
// attempt (e.g. after a crash replay) reschedules to the same instant
// instead of a new random one each time.
func backoffDelay(jobID string, attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0.3

	d := bo.InitialInterval
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * bo.Multiplier)
		if d > bo.MaxInterval {
			d = bo.MaxInterval
			break
		}
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	_, _ = h.Write([]byte{byte(attempt)})
	jitterRand := rand.New(rand.NewSource(int64(h.Sum64())))
	jitter := 1 + bo.RandomizationFactor*(2*jitterRand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

// ReclaimExpired resets jobs whose worker lease expired without completion
// back to queued, so a crashed worker never strands a job forever.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	return q.store.ReclaimExpiredLeases(ctx, time.Now().UTC())
}

// Depth reports the current non-terminal job count for stage (all stages
// if empty), for the queue-depth gauge.
func (q *Queue) Depth(ctx context.Context, stage types.Stage) (int64, error) {
	queued, err := q.store.CountJobs(ctx, stage, types.JobQueued)
	if err != nil {
		return 0, err
	}
	leased, err := q.store.CountJobs(ctx, stage, types.JobLeased)
	if err != nil {
		return 0, err
	}
	return int64(queued + leased), nil
}

// ReportQueueMetrics records the queue-depth and oldest-age gauges for
// stage; intended to be called periodically (e.g. on a ticker) per stage.
func (q *Queue) ReportQueueMetrics(ctx context.Context, stage types.Stage) {
	depth, err := q.Depth(ctx, stage)
	if err == nil {
		telemetry.RecordQueueDepth(ctx, string(stage), depth)
	}
	oldest, err := q.store.OldestQueuedAt(ctx, stage)
	if err == nil {
		telemetry.RecordQueueOldestAge(ctx, string(stage), time.Since(oldest))
	}
}

// DeadLetters returns recently dead-lettered jobs for operator inspection.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*types.Job, error) {
	return q.store.ListDeadJobs(ctx, limit)
}
