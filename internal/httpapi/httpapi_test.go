package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/corpuspipe/corpuspipe/internal/worker"
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

func setupRunner(t *testing.T) *pipeline.Runner {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "corpuspipe.db")
	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	adaptor := fake.New("pubmed", []types.UnifiedPaper{strongPaper()})
	caches := cache.NewSet(store)
	return &pipeline.Runner{
		Store:         store,
		Queue:         queue.New(store),
		Outputs:       stageoutput.New(store),
		Caches:        caches,
		Providers:     map[types.ProviderSource]*provider.Runtime{types.SourcePubmed: provider.NewRuntime(adaptor, provider.DefaultLimits)},
		Canonicalizer: canonicalize.New(caches.CanonicalRecord),
		Now:           func() time.Time { return fixedNow },
	}
}

func runReportToCompletion(t *testing.T, r *pipeline.Runner, reportID string) {
	t.Helper()
	ctx := context.Background()
	pool := worker.New(r, worker.Config{
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
		got, err := r.Store.GetReport(ctx, reportID)
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
}

func TestCreateAndGetSearch(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)

	body, err := json.Marshal(types.SearchRequest{
		Query:           "intervention trial",
		FromYear:        2023,
		ToYear:          2024,
		MaxCandidates:   10,
		MaxEvidenceRows: 10,
		ProviderProfile: []string{string(types.SourcePubmed)},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.handleCreateSearch(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var created createSearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.SearchID)

	runReportToCompletion(t, r, created.SearchID)

	getReq := httptest.NewRequest(http.MethodGet, "/search/"+created.SearchID, nil)
	getReq.SetPathValue("id", created.SearchID)
	getRR := httptest.NewRecorder()
	s.handleGetSearch(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)

	var rep types.Report
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &rep))
	require.Equal(t, types.ReportCompleted, rep.Status)
	require.NotEmpty(t, rep.ActiveRunID)
}

func TestCreateSearchRejectsEmptyQuery(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)

	body, _ := json.Marshal(types.SearchRequest{Query: "   "})
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.handleCreateSearch(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetSearchNotFound(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/search/nope", nil)
	req.SetPathValue("id", "nope")
	rr := httptest.NewRecorder()
	s.handleGetSearch(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListAndGetRun(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)

	ctx := context.Background()
	pv, err := pipeline.ResolveActivePipelineVersion(ctx, r.Store)
	require.NoError(t, err)

	rep := &types.Report{
		ID:                "rep_runs",
		Question:          "does it work",
		Status:            types.ReportQueued,
		PipelineVersionID: pv.ID,
		Request: types.SearchRequest{
			Query:           "intervention trial",
			MaxCandidates:   10,
			MaxEvidenceRows: 10,
			ProviderProfile: []string{string(types.SourcePubmed)},
		},
		CreatedAt: fixedNow,
	}
	require.NoError(t, r.Store.CreateReport(ctx, rep))
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))
	runReportToCompletion(t, r, rep.ID)

	listReq := httptest.NewRequest(http.MethodGet, "/search/"+rep.ID+"/runs", nil)
	listReq.SetPathValue("id", rep.ID)
	listRR := httptest.NewRecorder()
	s.handleListRuns(listRR, listReq)
	require.Equal(t, http.StatusOK, listRR.Code)

	var runs []runSummary
	require.NoError(t, json.Unmarshal(listRR.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	runReq := httptest.NewRequest(http.MethodGet, "/search/"+rep.ID+"/runs/"+runs[0].ID, nil)
	runReq.SetPathValue("id", rep.ID)
	runReq.SetPathValue("run_id", runs[0].ID)
	runRR := httptest.NewRecorder()
	s.handleGetRun(runRR, runReq)
	require.Equal(t, http.StatusOK, runRR.Code)

	var detail runDetailResponse
	require.NoError(t, json.Unmarshal(runRR.Body.Bytes(), &detail))
	require.Equal(t, evidenceColumns, detail.Columns)
	require.True(t, detail.Run.IsActive)
}

func TestGetPaperAfterCompletion(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)
	ctx := context.Background()

	pv, err := pipeline.ResolveActivePipelineVersion(ctx, r.Store)
	require.NoError(t, err)
	rep := &types.Report{
		ID:                "rep_paper",
		Question:          "does it work",
		Status:            types.ReportQueued,
		PipelineVersionID: pv.ID,
		Request: types.SearchRequest{
			Query:           "intervention trial",
			MaxCandidates:   10,
			MaxEvidenceRows: 10,
			ProviderProfile: []string{string(types.SourcePubmed)},
		},
		CreatedAt: fixedNow,
	}
	require.NoError(t, r.Store.CreateReport(ctx, rep))
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))
	runReportToCompletion(t, r, rep.ID)

	got, err := r.Store.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.CanonicalPapers)
	paperID := got.CanonicalPapers[0].PaperID

	req := httptest.NewRequest(http.MethodGet, "/paper/"+paperID, nil)
	req.SetPathValue("id", paperID)
	rr := httptest.NewRecorder()
	s.handleGetPaper(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var paper types.CanonicalPaper
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &paper))
	require.Equal(t, paperID, paper.PaperID)
}

func TestGetPaperNotFound(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/paper/nope", nil)
	req.SetPathValue("id", "nope")
	rr := httptest.NewRecorder()
	s.handleGetPaper(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDrainRequiresToken(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "secret-token", nil)

	req := httptest.NewRequest(http.MethodPost, "/jobs/drain", nil)
	rr := httptest.NewRecorder()
	s.handleDrain(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/jobs/drain", nil)
	req2.Header.Set("Authorization", "Bearer secret-token")
	rr2 := httptest.NewRecorder()
	s.handleDrain(rr2, req2)
	require.Equal(t, http.StatusOK, rr2.Code)
}

func TestDrainClaimsAndRunsJobs(t *testing.T) {
	r := setupRunner(t)
	s := New(r, "127.0.0.1:0", "", nil)
	ctx := context.Background()

	pv, err := pipeline.ResolveActivePipelineVersion(ctx, r.Store)
	require.NoError(t, err)
	rep := &types.Report{
		ID:                "rep_drain",
		Question:          "does it work",
		Status:            types.ReportQueued,
		PipelineVersionID: pv.ID,
		Request: types.SearchRequest{
			Query:           "intervention trial",
			MaxCandidates:   10,
			MaxEvidenceRows: 10,
			ProviderProfile: []string{string(types.SourcePubmed)},
		},
		CreatedAt: fixedNow,
	}
	require.NoError(t, r.Store.CreateReport(ctx, rep))
	require.NoError(t, r.StartReport(ctx, rep.ID, rep.Request))

	body, _ := json.Marshal(drainRequest{WorkerID: "test-drain", BatchSize: 20, LeaseSeconds: 60})
	deadline := time.Now().Add(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodPost, "/jobs/drain", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		s.handleDrain(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		got, err := r.Store.GetReport(ctx, rep.ID)
		require.NoError(t, err)
		if got.Status == types.ReportCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal(fmt.Sprintf("report did not complete via drain, last status %s", got.Status))
		}
	}
}
