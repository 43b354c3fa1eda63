package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

func setupQueue(t *testing.T) (*Queue, *types.Report) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "corpuspipe.db")
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	pv, err := store.PutPipelineVersion(ctx, &types.PipelineVersion{
		ID: "pv_q", PromptManifestHash: "p", ExtractorBundleHash: "e", ConfigHash: "c", Seed: 1,
	})
	require.NoError(t, err)
	r := &types.Report{
		ID: "rep_q", Question: "q", Status: types.ReportQueued,
		PipelineVersionID: pv.ID, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateReport(ctx, r))

	return New(store), r
}

func TestEnqueueFoldsDuplicateDedupeKey(t *testing.T) {
	ctx := context.Background()
	q, r := setupQueue(t)

	job1, err := q.Enqueue(ctx, EnqueueParams{ReportID: r.ID, Stage: types.StageIngestProvider, DedupeKey: "k1", InputHash: "h1"})
	require.NoError(t, err)

	job2, err := q.Enqueue(ctx, EnqueueParams{ReportID: r.ID, Stage: types.StageIngestProvider, DedupeKey: "k1", InputHash: "h1"})
	require.NoError(t, err)
	require.Equal(t, job1.ID, job2.ID)
}

func TestClaimCompleteLifecycle(t *testing.T) {
	ctx := context.Background()
	q, r := setupQueue(t)

	job, err := q.Enqueue(ctx, EnqueueParams{ReportID: r.ID, Stage: types.StageNormalize, DedupeKey: "k2", InputHash: "h2"})
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, types.StageNormalize, "worker-1")
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	require.NoError(t, q.Complete(ctx, claimed, "out-hash"))

	_, err = q.Claim(ctx, types.StageNormalize, "worker-2")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	q, r := setupQueue(t)
	q.maxAttempts = 1

	job, err := q.Enqueue(ctx, EnqueueParams{ReportID: r.ID, Stage: types.StageDedupe, DedupeKey: "k3", InputHash: "h3"})
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, types.StageDedupe, "worker-1")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, claimed, errors.New("boom")))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, job.ID, dead[0].ID)
}

func TestReclaimExpiredRequeues(t *testing.T) {
	ctx := context.Background()
	q, r := setupQueue(t)
	q.leaseFor = -time.Minute

	_, err := q.Enqueue(ctx, EnqueueParams{ReportID: r.ID, Stage: types.StageQualityFilter, DedupeKey: "k4", InputHash: "h4"})
	require.NoError(t, err)

	_, err = q.Claim(ctx, types.StageQualityFilter, "worker-1")
	require.NoError(t, err)

	n, err := q.ReclaimExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := q.Claim(ctx, types.StageQualityFilter, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestDepthReportsQueuedAndLeased(t *testing.T) {
	ctx := context.Background()
	q, r := setupQueue(t)

	_, err := q.Enqueue(ctx, EnqueueParams{ReportID: r.ID, Stage: types.StageCompileReport, DedupeKey: "k5", InputHash: "h5"})
	require.NoError(t, err)

	depth, err := q.Depth(ctx, types.StageCompileReport)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestBackoffDelayIsDeterministicAndBounded(t *testing.T) {
	d1 := backoffDelay("job_1", 3)
	d2 := backoffDelay("job_1", 3)
	require.Equal(t, d1, d2, "same job/attempt must reschedule to the same delay")

	d3 := backoffDelay("job_2", 3)
	require.NotEqual(t, d1, d3, "different jobs get different deterministic jitter")

	for attempt := 0; attempt < 12; attempt++ {
		d := backoffDelay("job_3", attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 60*time.Second+60*time.Second/3) // cap plus a margin above the 30% max jitter
	}
}
