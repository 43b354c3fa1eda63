package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/pipeline"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// searchListLimit bounds how many of a report owner's prior reports are
// scanned for a query-cache-hit replay on POST /search.
const searchListLimit = 200

type createSearchResponse struct {
	SearchID string             `json:"search_id"`
	Status   types.ReportStatus `json:"status"`
}

// handleCreateSearch validates the request, reuses the most recent
// completed report for an identical query if one exists (the cache-hit
// replay path), and otherwise allocates a new report and starts it through
// INGEST_PROVIDER.
func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req types.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx := r.Context()

	if s.runner.Caches != nil && s.runner.Caches.Query != nil {
		if _, hit, err := s.runner.Caches.Query.Get(ctx, req.Query); err == nil && hit {
			if existing, ok := s.findCompletedReportByQuery(ctx, req); ok {
				writeJSON(w, http.StatusOK, existing)
				return
			}
		}
	}

	pv, err := pipeline.ResolveActivePipelineVersion(ctx, s.runner.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve pipeline version")
		return
	}

	rep := &types.Report{
		ID:                idgen.WithPrefix("report", idgen.NewUUID()),
		Question:          req.Query,
		Status:            types.ReportQueued,
		PipelineVersionID: pv.ID,
		Request:           req,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.runner.Store.CreateReport(ctx, rep); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create report")
		return
	}
	if err := s.runner.StartReport(ctx, rep.ID, req); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start report")
		return
	}

	writeJSON(w, http.StatusAccepted, createSearchResponse{SearchID: rep.ID, Status: rep.Status})
}

// findCompletedReportByQuery scans the owner's recent reports for one whose
// request matches req verbatim and has reached a completed status, for the
// POST /search cache-hit replay path.
func (s *Server) findCompletedReportByQuery(ctx context.Context, req types.SearchRequest) (*types.Report, bool) {
	reports, err := s.runner.Store.ListReports(ctx, "", searchListLimit)
	if err != nil {
		return nil, false
	}
	for _, rep := range reports {
		if rep.Status != types.ReportCompleted {
			continue
		}
		if sameSearchRequest(rep.Request, req) {
			return rep, true
		}
	}
	return nil, false
}

func sameSearchRequest(a, b types.SearchRequest) bool {
	return a.Query == b.Query && a.Domain == b.Domain && a.FromYear == b.FromYear &&
		a.ToYear == b.ToYear && a.MaxCandidates == b.MaxCandidates
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	rep, err := s.runner.Store.GetReport(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storageStatus(err), "report not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type runSummary struct {
	ID          string    `json:"id"`
	RunIndex    int       `json:"run_index"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	Trigger     string    `json:"trigger"`
	Status      string    `json:"status"`
	Engine      string    `json:"engine"`
	CreatedAt   time.Time `json:"created_at"`
	IsActive    bool      `json:"is_active"`
}

func toRunSummary(run *types.ExtractionRun) runSummary {
	return runSummary{
		ID:          run.ID,
		RunIndex:    run.RunIndex,
		ParentRunID: run.ParentRunID,
		Trigger:     run.Trigger,
		Status:      run.Status,
		Engine:      run.Engine,
		CreatedAt:   run.CreatedAt,
		IsActive:    run.IsActive,
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reportID := r.PathValue("id")
	if _, err := s.runner.Store.GetReport(r.Context(), reportID); err != nil {
		writeError(w, storageStatus(err), "report not found")
		return
	}
	runs, err := s.runner.Store.ListExtractionRuns(r.Context(), reportID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runSummary, len(runs))
	for i, run := range runs {
		out[i] = toRunSummary(run)
	}
	writeJSON(w, http.StatusOK, out)
}

// evidenceColumns is the fixed column schema GET /search/{id}/runs/{run_id}
// renders the active run's evidence table under.
var evidenceColumns = []string{"rank", "paper_id", "abstract_snippet", "proposition_label", "q_total", "provenance"}

type runDetailResponse struct {
	Run     runSummary       `json:"run"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// handleGetRun returns the run row plus, for the report's currently active
// run only, its evidence table rendered as a generic column/row/cell grid —
// only the active run's evidence table is retained on the report, so an
// older run's detail carries the row schema with no rows rather than a 404.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reportID := r.PathValue("id")
	runID := r.PathValue("run_id")

	rep, err := s.runner.Store.GetReport(ctx, reportID)
	if err != nil {
		writeError(w, storageStatus(err), "report not found")
		return
	}
	run, err := s.runner.Store.GetExtractionRun(ctx, runID)
	if err != nil || run.ReportID != reportID {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	resp := runDetailResponse{Run: toRunSummary(run), Columns: evidenceColumns}
	if run.ID == rep.ActiveRunID {
		resp.Rows = make([]map[string]any, len(rep.EvidenceTable))
		for i, row := range rep.EvidenceTable {
			resp.Rows[i] = map[string]any{
				"rank":              row.Rank,
				"paper_id":          row.PaperID,
				"abstract_snippet":  row.AbstractSnippet,
				"proposition_label": row.PropositionLabel,
				"q_total":           row.Quality.QTotal,
				"provenance":        row.Provenance,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetPaper looks a canonical paper up by paper_id from the
// canonical-record cache populated at COMPILE_REPORT time.
func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paperID := r.PathValue("id")
	if s.runner.Caches == nil || s.runner.Caches.CanonicalRecord == nil {
		writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	raw, hit, err := s.runner.Caches.CanonicalRecord.Get(r.Context(), cache.PaperKey(paperID))
	if err != nil || !hit {
		writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	var paper types.CanonicalPaper
	if err := json.Unmarshal(raw, &paper); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt cached paper record")
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

// defaultDrainLeaseSeconds mirrors the queue's default claim lease, the
// fallback when a drain request doesn't specify lease_seconds.
const (
	defaultDrainBatchSize    = 10
	defaultDrainLeaseSeconds = 120
)

type drainRequest struct {
	WorkerID     string `json:"worker_id"`
	BatchSize    int    `json:"batch_size"`
	LeaseSeconds int    `json:"lease_seconds"`
}

type drainResponse struct {
	Claimed   int      `json:"claimed"`
	Completed int      `json:"completed"`
	Retried   int      `json:"retried"`
	Dead      int      `json:"dead"`
	Failures  []string `json:"failures,omitempty"`
}

// handleDrain claims up to batch_size jobs of any stage under a caller-
// supplied lease duration and runs each synchronously, reporting outcome
// counts — the worker-facing counterpart to internal/worker's background
// pool, for environments that drive draining from an external scheduler
// instead of running a standing worker process.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedDrain(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing drain token")
		return
	}

	var req drainRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultDrainBatchSize
	}
	if req.WorkerID == "" {
		req.WorkerID = "http-drain"
	}
	leaseFor := time.Duration(req.LeaseSeconds) * time.Second
	if leaseFor <= 0 {
		leaseFor = defaultDrainLeaseSeconds * time.Second
	}

	ctx := r.Context()
	resp := drainResponse{}
	for i := 0; i < req.BatchSize; i++ {
		job, err := s.runner.Store.ClaimNextJob(ctx, "", req.WorkerID, leaseFor)
		if err != nil {
			if !storage.IsNotFound(err) {
				resp.Failures = append(resp.Failures, err.Error())
			}
			break
		}
		resp.Claimed++

		if runErr := s.runner.RunJob(ctx, job); runErr != nil {
			resp.Failures = append(resp.Failures, job.ID+": "+runErr.Error())
			if updated, gerr := s.runner.Store.GetJob(ctx, job.ID); gerr == nil && updated.Status == types.JobDead {
				resp.Dead++
			} else {
				resp.Retried++
			}
			continue
		}
		resp.Completed++
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authorizedDrain(r *http.Request) bool {
	if s.drainToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return strings.TrimPrefix(auth, prefix) == s.drainToken
}
