package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/provider/fake"
	"github.com/corpuspipe/corpuspipe/internal/queue"
	"github.com/corpuspipe/corpuspipe/internal/stageoutput"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// strongPaper passes both HardReject and the q_total threshold: a
// PubMed-sourced RCT abstract carrying every methods-transparency token and
// a two-digit figure, scored at a recency matching the request window.
func strongPaper() types.UnifiedPaper {
	return types.UnifiedPaper{
		ID:            "pm-1",
		Title:         "A Randomized Controlled Trial of a Novel Intervention",
		Year:          2024,
		Abstract:      "This randomized controlled trial enrolled 48 participants using a double-blind protocol. Methods and sample dataset are described.",
		Authors:       []string{"A. Researcher"},
		Venue:         "Journal of Clinical Trials",
		Source:        types.SourcePubmed,
		PubmedID:      "12345678",
		CitationCount: 500,
		RankSignal:    0.9,
	}
}

func setupRunner(t *testing.T, adaptors map[types.ProviderSource]provider.Adaptor) (*Runner, *types.Report) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "corpuspipe.db")
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	pv, err := store.PutPipelineVersion(ctx, &types.PipelineVersion{
		ID: "pv_1", PromptManifestHash: "p", ExtractorBundleHash: "e", ConfigHash: "c", Seed: 1,
	})
	require.NoError(t, err)

	profile := make([]string, 0, len(adaptors))
	for src := range adaptors {
		profile = append(profile, string(src))
	}
	rep := &types.Report{
		ID:                "rep_1",
		Question:          "does the intervention work",
		Status:            types.ReportQueued,
		PipelineVersionID: pv.ID,
		Request: types.SearchRequest{
			Query:           "intervention trial",
			FromYear:        2023,
			ToYear:          2024,
			MaxCandidates:   10,
			MaxEvidenceRows: 10,
			ProviderProfile: profile,
		},
		CreatedAt: fixedNow,
	}
	require.NoError(t, store.CreateReport(ctx, rep))

	runtimes := make(map[types.ProviderSource]*provider.Runtime, len(adaptors))
	for src, a := range adaptors {
		runtimes[src] = provider.NewRuntime(a, provider.DefaultLimits)
	}

	caches := cache.NewSet(store)
	r := &Runner{
		Store:         store,
		Queue:         queue.New(store),
		Outputs:       stageoutput.New(store),
		Caches:        caches,
		Providers:     runtimes,
		Canonicalizer: canonicalize.New(caches.CanonicalRecord),
		Now:           func() time.Time { return fixedNow },
	}
	return r, rep
}

// runToCompletion drains every queued stage job in order until the queue
// is empty, failing the test if any RunJob call errors.
func runToCompletion(t *testing.T, r *Runner) {
	t.Helper()
	ctx := context.Background()
	for _, stage := range types.StageOrder {
		for {
			job, err := r.Queue.Claim(ctx, stage, "worker-1")
			if err != nil {
				if storage.IsNotFound(err) {
					break
				}
				require.NoError(t, err)
			}
			require.NoError(t, r.RunJob(ctx, job))
		}
	}
}

func TestRunnerDrivesReportToCompletion(t *testing.T) {
	r, rep := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", []types.UnifiedPaper{strongPaper()}),
	})
	ctx := context.Background()

	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))
	runToCompletion(t, r)

	got, err := r.Store.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Equal(t, types.ReportCompleted, got.Status)
	require.NotEmpty(t, got.CanonicalPapers)
	require.Equal(t, 1, got.Stats.QualityKeptTotal)
	require.GreaterOrEqual(t, len(got.Results)+len(got.PartialResults), 1)
	require.Equal(t, 1, got.ProviderSourceCounts[string(types.SourcePubmed)])
	require.NotEmpty(t, got.ActiveRunID)

	runs, err := r.Store.ListExtractionRuns(ctx, rep.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.True(t, runs[0].IsActive)
	require.Equal(t, got.ActiveRunID, runs[0].ID)
}

func TestDispatchIsIdempotentOnReplayedInputHash(t *testing.T) {
	r, rep := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", []types.UnifiedPaper{strongPaper()}),
	})
	ctx := context.Background()
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))

	job, err := r.Queue.Claim(ctx, types.StageIngestProvider, "worker-1")
	require.NoError(t, err)

	hash1, fresh1, err := r.dispatch(ctx, job)
	require.NoError(t, err)
	require.True(t, fresh1)

	hash2, fresh2, err := r.dispatch(ctx, job)
	require.NoError(t, err)
	require.False(t, fresh2, "a second dispatch over the same input hash must hit the content-addressed cache")
	require.Equal(t, hash1, hash2)
}

func TestFailTerminalDeadLettersValidationErrorImmediately(t *testing.T) {
	r, rep := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", []types.UnifiedPaper{strongPaper()}),
	})
	ctx := context.Background()

	job, err := r.Queue.Enqueue(ctx, queue.EnqueueParams{
		ReportID:  rep.ID,
		Stage:     types.StageIngestProvider,
		DedupeKey: dedupeKey(types.StageIngestProvider, rep.ID),
		InputHash: "bad-hash",
		Payload:   []byte("not valid json"),
	})
	require.NoError(t, err)

	claimed, err := r.Queue.Claim(ctx, types.StageIngestProvider, "worker-1")
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	err = r.RunJob(ctx, claimed)
	require.Error(t, err)

	stored, err := r.Store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobDead, stored.Status)
	require.Equal(t, 1, stored.Attempts, "a non-retryable category dead-letters after exactly one attempt")

	got, err := r.Store.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Equal(t, types.ReportFailed, got.Status)
}

func TestMarkReportFailedIgnoresAlreadyCompletedReport(t *testing.T) {
	r, rep := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", []types.UnifiedPaper{strongPaper()}),
	})
	ctx := context.Background()

	rep.Status = types.ReportCompleted
	require.NoError(t, r.Store.UpdateReport(ctx, rep))

	require.NoError(t, r.markReportFailed(ctx, rep.ID, "late failure"))

	got, err := r.Store.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Equal(t, types.ReportCompleted, got.Status, "a completed report is terminal and ignores late-arriving sibling failures")
}

func TestDedupeKeyIsUniquePerStageAndReport(t *testing.T) {
	require.NotEqual(t,
		dedupeKey(types.StageIngestProvider, "rep_a"),
		dedupeKey(types.StageIngestProvider, "rep_b"))
	require.NotEqual(t,
		dedupeKey(types.StageIngestProvider, "rep_a"),
		dedupeKey(types.StageNormalize, "rep_a"))
}

func TestProviderCoverageRecordsFailedProviders(t *testing.T) {
	r, rep := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", []types.UnifiedPaper{strongPaper()}).WithFailures(100),
	})
	ctx := context.Background()
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))
	runToCompletion(t, r)

	got, err := r.Store.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.True(t, got.Coverage.Degraded)
	require.Contains(t, got.Coverage.ProvidersFailed, "pubmed")
	require.Empty(t, got.CanonicalPapers)
}
