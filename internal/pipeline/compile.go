package pipeline

import (
	"context"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/extractor"
	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/telemetry"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// pdfBackfillTimeout bounds the best-effort out-of-band PDF re-extraction
// triggered after a report completes; it never blocks persistence.
const pdfBackfillTimeout = 30 * time.Second

// compileQueryCacheTTL is the TTL COMPILE_REPORT writes the query cache
// with, the same six hours as cache.QueryCacheTTL, since a completed
// report's normalized query is only worth reusing while the candidate set
// behind it is still fresh.
const compileQueryCacheTTL = 6 * time.Hour

// runCompileReport assembles the final Report snapshot from everything the
// earlier stages threaded forward, persists it along with an
// ExtractionRun record and cache upserts, and returns the compiled report
// as this stage's content-addressed payload. Replaying against an already
// completed report returns its existing snapshot rather than re-persisting,
// so a retried or idempotently-replayed job never regresses a later run.
func (r *Runner) runCompileReport(ctx context.Context, job *types.Job, in augmentAndQuality) ([]byte, error) {
	rep, err := r.Store.GetReport(ctx, job.ReportID)
	if err != nil {
		return nil, externalErr(types.StageCompileReport, err)
	}
	if rep.Status == types.ReportCompleted {
		return idgen.CanonicalJSON(rep)
	}

	strict, partial := splitByTier(in.Augment.Results)

	providerCounts := map[string]int{}
	for _, p := range in.Quality.Kept {
		for _, prov := range p.Provenance {
			providerCounts[string(prov.Source)]++
		}
	}

	stats := types.ReportStats{
		CandidatesTotal:       in.Quality.RetrievedTotal,
		CandidatesFiltered:    in.Quality.CandidatesFiltered,
		RetrievedTotal:        in.Quality.RetrievedTotal,
		AbstractEligibleTotal: in.Quality.AbstractEligibleTotal,
		QualityKeptTotal:      len(in.Quality.Kept),
		ExtractionInputTotal:  in.ExtractionInputTotal,
		StrictCompleteTotal:   in.Augment.Stats.StrictCount,
		PartialTotal:          in.Augment.Stats.PartialCount,
	}

	now := r.now()
	rep.Status = types.ReportCompleted
	rep.Results = strict
	rep.PartialResults = partial
	rep.CanonicalPapers = in.Quality.Kept
	rep.EvidenceTable = in.Quality.EvidenceTable
	rep.Brief = in.Quality.Brief
	rep.Coverage = in.Quality.Coverage
	rep.NormalizedQuery = in.Quality.NormalizedQuery
	rep.ExtractionStats = in.Augment.Stats
	rep.ProviderSourceCounts = providerCounts
	rep.Error = ""
	rep.CompletedAt = &now
	if !rep.CreatedAt.IsZero() {
		stats.LatencyMS = now.Sub(rep.CreatedAt).Milliseconds()
	}
	rep.Stats = stats

	if err := r.Store.UpdateReport(ctx, rep); err != nil {
		return nil, externalErr(types.StageCompileReport, err)
	}

	if err := r.snapshotExtractionRun(ctx, job, rep, in); err != nil {
		return nil, err
	}

	r.populateResultCaches(ctx, rep, in)

	telemetry.RecordRunOutcome(ctx, true)
	telemetry.RecordExtractionFallback(ctx, !in.Augment.Stats.LLMFallbackApplied)

	r.triggerPDFBackfill(job.ReportID, partial)

	return idgen.CanonicalJSON(rep)
}

// splitByTier partitions extraction results into strict-complete and
// partial tiers; dropped-tier studies go into neither, and llmaugment's
// synthesized "fallback" studies are reported with the partial tier.
func splitByTier(results []types.StudyResult) (strict, partial []types.StudyResult) {
	for _, res := range results {
		switch res.Tier {
		case "strict":
			strict = append(strict, res)
		case "dropped":
			// left out of the report
		default:
			partial = append(partial, res)
		}
	}
	return strict, partial
}

// snapshotExtractionRun records this compile as a new, active ExtractionRun
// so a later add-study or PDF re-extract replay has a concrete parent to
// diff against.
func (r *Runner) snapshotExtractionRun(ctx context.Context, job *types.Job, rep *types.Report, in augmentAndQuality) error {
	idx, err := r.Store.NextRunIndex(ctx, job.ReportID)
	if err != nil {
		return externalErr(types.StageCompileReport, err)
	}
	run := &types.ExtractionRun{
		ID:          idgen.WithPrefix("run", idgen.NewUUID()),
		ReportID:    job.ReportID,
		RunIndex:    idx,
		ParentRunID: rep.ActiveRunID,
		Trigger:     "pipeline",
		Status:      "completed",
		Engine:      in.Augment.Stats.Engine,
		InputHash:   job.InputHash,
		Stats:       in.Augment.Stats,
		CreatedAt:   r.now(),
		IsActive:    true,
	}
	if err := r.Store.CreateExtractionRun(ctx, run); err != nil {
		return externalErr(types.StageCompileReport, err)
	}
	if err := r.Store.SetActiveExtractionRun(ctx, job.ReportID, run.ID); err != nil {
		return externalErr(types.StageCompileReport, err)
	}
	rep.ActiveRunID = run.ID
	rep.RunCount++
	rep.RunVersion++
	return r.Store.UpdateReport(ctx, rep)
}

// populateResultCaches upserts the query/DOI/canonical-record caches with
// what this report learned, so a repeat or related search reuses it. Cache
// writes are best-effort: a failure here must never fail the compile.
func (r *Runner) populateResultCaches(ctx context.Context, rep *types.Report, in augmentAndQuality) {
	if r.Caches == nil {
		return
	}
	if r.Caches.Query != nil {
		if raw, err := idgen.CanonicalJSON(in.Quality.NormalizedQuery); err == nil {
			_ = r.Caches.Query.PutWithTTL(ctx, rep.Request.Query, raw, compileQueryCacheTTL)
		}
	}
	for _, p := range in.Quality.Kept {
		raw, err := idgen.CanonicalJSON(p)
		if err != nil {
			continue
		}
		_ = r.Caches.CanonicalRecord.Put(ctx, cache.PaperKey(p.PaperID), raw)
		if p.DOI == "" {
			continue
		}
		_ = r.populateDOICache(ctx, p.Title, p.DOI, 1.0)
		_ = r.Caches.CanonicalRecord.Put(ctx, doiCacheKey(p.DOI), raw)
	}
}

// triggerPDFBackfill re-runs the PDF extractor over whatever partial-tier
// studies still carry a PDF URL, out of band from the request that
// completed this report. It runs detached from ctx so a client disconnect
// can't cancel it, and any resolved studies are folded back into the report
// in place — a later read picks them up, but nothing here blocks
// COMPILE_REPORT from returning.
func (r *Runner) triggerPDFBackfill(reportID string, partial []types.StudyResult) {
	if r.PDFClient == nil {
		return
	}
	var reqs []extractor.PDFExtractRequest
	for _, s := range partial {
		if s.PDFURL == nil || *s.PDFURL == "" {
			continue
		}
		reqs = append(reqs, extractor.PDFExtractRequest{
			StudyID:   s.StudyID,
			Title:     s.Title,
			PDFURL:    *s.PDFURL,
			TimeoutMS: int(pdfBackfillTimeout.Milliseconds()),
		})
	}
	if len(reqs) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pdfBackfillTimeout)
		defer cancel()

		results, err := r.PDFClient.Extract(ctx, reqs)
		if err != nil {
			return
		}
		byStudy := make(map[string]extractor.PDFExtractResult, len(results))
		for _, res := range results {
			if res.Diagnostics.UsedPDF {
				byStudy[res.StudyID] = res
			}
		}
		if len(byStudy) == 0 {
			return
		}

		rep, err := r.Store.GetReport(ctx, reportID)
		if err != nil {
			return
		}
		changed := false
		for i, s := range rep.PartialResults {
			if res, ok := byStudy[s.StudyID]; ok {
				rep.PartialResults[i] = res.Study
				changed = true
			}
		}
		if changed {
			_ = r.Store.UpdateReport(ctx, rep)
		}
	}()
}
