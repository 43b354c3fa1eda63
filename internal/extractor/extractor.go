// Package extractor implements DETERMINISTIC_EXTRACT: a rule/regex-based
// pass over each quality-kept canonical paper's abstract (with an optional
// external PDF extractor in the loop) that produces a StudyResult, and
// classifies each into the strict/partial/dropped completeness tiers.
package extractor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/telemetry"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const (
	MinCandidates = 5
	MaxCandidates = 60

	abstractExcerptMaxLen = 500

	ExtractorVersion = "deterministic_first_v1"
	DeterministicModel = "deterministic"
	DeterministicPromptHash = "deterministic"
)

// Options configures one DETERMINISTIC_EXTRACT run.
type Options struct {
	Limit           int
	PDFClient       PDFExtractor
	PDFTimeoutMS    int
	ExtractionCache *cache.Cache
}

// clampLimit bounds n to [MinCandidates, MaxCandidates], defaulting to 45
// when n is zero.
func clampLimit(n int) int {
	if n == 0 {
		n = 45
	}
	if n < MinCandidates {
		n = MinCandidates
	}
	if n > MaxCandidates {
		n = MaxCandidates
	}
	return n
}

// Extract runs the deterministic extractor over the top N (by the caller's
// existing quality ordering) canonical papers, optionally augments with an
// external PDF extractor, classifies completeness tiers, and writes
// successful extractions to the extraction cache.
func Extract(ctx context.Context, papers []types.CanonicalPaper, opts Options) (_ []types.StudyResult, _ types.ExtractionStats, err error) {
	ctx, span := telemetry.StartSpan(ctx, "extractor", "extractor.extract")
	defer func() { telemetry.EndSpan(span, err) }()

	t0 := time.Now()
	limit := clampLimit(opts.Limit)
	if limit > len(papers) {
		limit = len(papers)
	}
	span.SetAttributes(attribute.Int("extractor.candidates", limit))

	results := make([]types.StudyResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = buildDeterministic(papers[i])
	}

	stats := types.ExtractionStats{Engine: "deterministic", FallbackReasons: map[string]int{}}

	if opts.PDFClient != nil {
		results, stats.UsedPDF = applyPDFExtractor(ctx, results, papers[:limit], opts, stats.FallbackReasons)
	}

	for i := range results {
		results[i].Tier = tier(results[i])
		switch results[i].Tier {
		case "strict":
			stats.StrictCount++
		case "partial":
			stats.PartialCount++
		default:
			stats.DroppedCount++
		}
	}

	if opts.ExtractionCache != nil {
		for _, r := range results {
			if r.Tier == "dropped" {
				continue
			}
			if err := writeExtractionCache(ctx, opts.ExtractionCache, r); err != nil {
				return nil, stats, err
			}
		}
	}

	stats.LatencyMS = time.Since(t0).Milliseconds()
	return results, stats, nil
}

// buildDeterministic runs the abstract-only rule extractor for one
// canonical paper.
func buildDeterministic(p types.CanonicalPaper) types.StudyResult {
	design, reviewType := classifyStudyDesign(p.Title, p.Abstract)
	outcomes := extractOutcomeSentences(p.Abstract)
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomeScore(outcomes[i]) > outcomeScore(outcomes[j])
	})

	var source types.ProviderSource
	var citationCount *int
	if len(p.Provenance) > 0 {
		source = p.Provenance[0].Source
	}
	if p.CitationCount > 0 {
		n := p.CitationCount
		citationCount = &n
	}

	preprintStatus := "published"
	if p.IsPreprint {
		preprintStatus = "preprint"
	}

	var pdfURL, landingPageURL *string
	if p.PDFURL != "" {
		u := p.PDFURL
		pdfURL = &u
	}
	if p.LandingPageURL != "" {
		u := p.LandingPageURL
		landingPageURL = &u
	}

	return types.StudyResult{
		StudyID:        p.PaperID,
		Title:          p.Title,
		Year:           p.Year,
		StudyDesign:    design,
		SampleSize:     extractSampleSize(p.Abstract),
		Population:     extractPopulation(p.Abstract),
		Outcomes:       outcomes,
		Citation: types.Citation{
			DOI:        p.DOI,
			PubmedID:   p.PubmedID,
			OpenAlexID: p.OpenAlexID,
			Formatted:  formatCitation(p),
		},
		AbstractExcerpt: truncate(p.Abstract, abstractExcerptMaxLen),
		PreprintStatus:  preprintStatus,
		ReviewType:      reviewType,
		Source:          source,
		CitationCount:   citationCount,
		PDFURL:          pdfURL,
		LandingPageURL:  landingPageURL,
	}
}

func formatCitation(p types.CanonicalPaper) string {
	return fmt.Sprintf("%s (%d)", p.Title, p.Year)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyPDFExtractor batches papers with a PDF URL to the external
// extractor. A whole-batch failure falls every study in the batch back to
// its already-built deterministic result. usedAny reports whether any
// study in the run actually used PDF extraction.
func applyPDFExtractor(ctx context.Context, results []types.StudyResult, papers []types.CanonicalPaper, opts Options, fallbackReasons map[string]int) ([]types.StudyResult, bool) {
	type pending struct {
		index int
		req   PDFExtractRequest
	}
	var batch []pending
	for i, p := range papers {
		if p.PDFURL == "" {
			continue
		}
		batch = append(batch, pending{index: i, req: PDFExtractRequest{
			StudyID:        p.PaperID,
			Title:          p.Title,
			Abstract:       p.Abstract,
			PDFURL:         p.PDFURL,
			LandingPageURL: p.LandingPageURL,
			TimeoutMS:      opts.PDFTimeoutMS,
		}})
	}
	if len(batch) == 0 {
		return results, false
	}

	reqs := make([]PDFExtractRequest, len(batch))
	for i, b := range batch {
		reqs[i] = b.req
	}

	out, err := opts.PDFClient.Extract(ctx, reqs)
	if err != nil {
		fallbackReasons["pdf_extractor_error"] += len(batch)
		return results, false
	}

	byStudyID := make(map[string]PDFExtractResult, len(out))
	for _, r := range out {
		byStudyID[r.StudyID] = r
	}

	usedAny := false
	for _, b := range batch {
		r, ok := byStudyID[b.req.StudyID]
		if !ok || !r.Diagnostics.UsedPDF {
			reason := r.Diagnostics.FallbackReason
			if reason == "" {
				reason = "pdf_result_missing"
			}
			fallbackReasons[reason]++
			continue
		}
		results[b.index] = r.Study
		usedAny = true
	}
	return results, usedAny
}

// CacheKey computes the extraction cache key for (study_id, extractor_version,
// prompt_hash, model) — shared with internal/llmaugment, which upserts under
// the active (non-deterministic) tuple once model augmentation runs.
func CacheKey(studyID, extractorVersion, promptHash, model string) string {
	return idgen.HashString(studyID + "|" + extractorVersion + "|" + promptHash + "|" + model)
}

func writeExtractionCache(ctx context.Context, c *cache.Cache, r types.StudyResult) error {
	key := CacheKey(r.StudyID, ExtractorVersion, DeterministicPromptHash, DeterministicModel)
	payload, err := idgen.CanonicalJSON(r)
	if err != nil {
		return fmt.Errorf("extractor: canonicalize %s: %w", r.StudyID, err)
	}
	if err := c.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("extractor: cache put %s: %w", r.StudyID, err)
	}
	return nil
}
