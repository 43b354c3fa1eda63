package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
	"github.com/corpuspipe/corpuspipe/internal/pipeline"
	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/provider/fake"
	"github.com/corpuspipe/corpuspipe/internal/queue"
	"github.com/corpuspipe/corpuspipe/internal/stageoutput"
	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

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

func setupRunner(t *testing.T) (*pipeline.Runner, *types.Report) {
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
			ProviderProfile: []string{string(types.SourcePubmed)},
		},
		CreatedAt: fixedNow,
	}
	require.NoError(t, store.CreateReport(ctx, rep))

	adaptor := fake.New("pubmed", []types.UnifiedPaper{strongPaper()})
	caches := cache.NewSet(store)
	r := &pipeline.Runner{
		Store:         store,
		Queue:         queue.New(store),
		Outputs:       stageoutput.New(store),
		Caches:        caches,
		Providers:     map[types.ProviderSource]*provider.Runtime{types.SourcePubmed: provider.NewRuntime(adaptor, provider.DefaultLimits)},
		Canonicalizer: canonicalize.New(caches.CanonicalRecord),
		Now:           func() time.Time { return fixedNow },
	}
	return r, rep
}

func TestPoolDrainsReportToCompletion(t *testing.T) {
	r, rep := setupRunner(t)
	ctx := context.Background()
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))

	pool := New(r, Config{
		ConcurrencyPerStage: 1,
		PollInterval:        5 * time.Millisecond,
		ReclaimInterval:     time.Hour,
		MetricsInterval:     time.Hour,
		Owner:               "test",
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := r.Store.GetReport(ctx, rep.ID)
		require.NoError(t, err)
		if got.Status == types.ReportCompleted || got.Status == types.ReportFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("report did not reach a terminal state in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	got, err := r.Store.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.Equal(t, types.ReportCompleted, got.Status)
	require.NotEmpty(t, got.ActiveRunID)
}

func TestReclaimOnceResetsExpiredLease(t *testing.T) {
	r, rep := setupRunner(t)
	ctx := context.Background()
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))

	job, err := r.Store.ClaimNextJob(ctx, types.StageIngestProvider, "worker-1", -time.Minute)
	require.NoError(t, err)
	require.Equal(t, types.JobLeased, job.Status)

	pool := New(r, Config{})
	pool.reclaimOnce(ctx)

	reclaimed, err := r.Store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobQueued, reclaimed.Status)
}

func TestMetricsOnceDoesNotErrorOnEmptyQueue(t *testing.T) {
	r, _ := setupRunner(t)
	pool := New(r, Config{})
	pool.metricsOnce(context.Background())
}

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, DefaultConcurrencyPerStage, cfg.ConcurrencyPerStage)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultReclaimInterval, cfg.ReclaimInterval)
	require.Equal(t, DefaultMetricsInterval, cfg.MetricsInterval)
	require.Equal(t, "worker", cfg.Owner)
	require.NotNil(t, cfg.Logger)
}
