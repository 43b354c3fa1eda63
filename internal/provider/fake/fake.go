// Package fake provides deterministic provider.Adaptor implementations for
// exercising the pipeline's later stages without a real network call.
package fake

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// Adaptor is a scripted provider.Adaptor: it returns a fixed set of papers
// for any query, optionally failing the first N calls to exercise retry and
// circuit-breaker paths in callers.
type Adaptor struct {
	name       string
	papers     []types.UnifiedPaper
	failFirstN int32
	calls      int64
}

// New constructs a fake adaptor named name that always returns papers.
func New(name string, papers []types.UnifiedPaper) *Adaptor {
	return &Adaptor{name: name, papers: papers}
}

// WithFailures returns a copy of a that fails its first n calls with a
// generic error before returning its scripted papers.
func (a *Adaptor) WithFailures(n int32) *Adaptor {
	return &Adaptor{name: a.name, papers: a.papers, failFirstN: n}
}

func (a *Adaptor) Name() string { return a.name }

// Calls reports how many times Search has been invoked.
func (a *Adaptor) Calls() int64 { return atomic.LoadInt64(&a.calls) }

func (a *Adaptor) Search(ctx context.Context, query types.NormalizedQuery, limit int) ([]types.UnifiedPaper, error) {
	n := atomic.AddInt64(&a.calls, 1)
	if int32(n) <= a.failFirstN {
		return nil, fmt.Errorf("fake provider %s: scripted failure %d/%d", a.name, n, a.failFirstN)
	}
	if limit <= 0 || limit >= len(a.papers) {
		out := make([]types.UnifiedPaper, len(a.papers))
		copy(out, a.papers)
		return out, nil
	}
	out := make([]types.UnifiedPaper, limit)
	copy(out, a.papers[:limit])
	return out, nil
}

// OpenAlexSample is a small, realistic OpenAlex-shaped fixture covering a
// DOI-bearing journal article and a preprint with no DOI.
func OpenAlexSample() []types.UnifiedPaper {
	return []types.UnifiedPaper{
		{
			ID:               "oa-1",
			Title:            "Deep Learning for Evidence Synthesis in Systematic Reviews",
			Year:             2022,
			Abstract:         "We present a deep learning approach to evidence synthesis...",
			Authors:          []string{"A. Researcher", "B. Scholar"},
			Venue:            "Journal of Evidence Synthesis",
			Source:           types.SourceOpenAlex,
			DOI:              "10.1234/jes.2022.001",
			OpenAlexID:       "W1000000001",
			CitationCount:    42,
			PublicationTypes: []string{"journal-article"},
			RankSignal:       0.91,
		},
		{
			ID:               "oa-2",
			Title:            "A Preprint on Large Language Models for Literature Review",
			Year:             2024,
			Abstract:         "This preprint explores LLM-assisted literature review...",
			Authors:          []string{"C. Author"},
			Venue:            "arXiv",
			Source:           types.SourceOpenAlex,
			OpenAlexID:       "W1000000002",
			CitationCount:    3,
			PublicationTypes: []string{"posted-content"},
			PreprintStatus:   "preprint",
			RankSignal:       0.55,
		},
	}
}

// SemanticScholarSample overlaps one paper with OpenAlexSample (matched by
// title, no DOI on this source) to exercise DEDUPE's fallback merge path,
// plus one source-exclusive paper.
func SemanticScholarSample() []types.UnifiedPaper {
	return []types.UnifiedPaper{
		{
			ID:            "s2-1",
			Title:         "Deep Learning for Evidence Synthesis in Systematic Reviews",
			Year:          2022,
			Abstract:      "We present a deep learning approach to evidence synthesis...",
			Authors:       []string{"A. Researcher", "B. Scholar"},
			Venue:         "Journal of Evidence Synthesis",
			Source:        types.SourceSemanticScholar,
			CitationCount: 39,
			RankSignal:    0.88,
		},
		{
			ID:            "s2-2",
			Title:         "Citation Network Analysis for Research Trend Detection",
			Year:          2021,
			Abstract:      "A citation network approach to detecting emerging trends...",
			Authors:       []string{"D. Analyst"},
			Venue:         "Scientometrics",
			Source:        types.SourceSemanticScholar,
			CitationCount: 17,
			RankSignal:    0.62,
		},
	}
}
