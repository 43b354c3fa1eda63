package pipeline

import (
	"context"

	"github.com/corpuspipe/corpuspipe/internal/quality"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// defaultMaxEvidenceRows applies when a request doesn't specify one.
const defaultMaxEvidenceRows = 20

// qualityOutput is QUALITY_FILTER's emitted payload, carrying forward
// everything COMPILE_REPORT will eventually need that only an earlier
// stage knows: coverage, the normalized query, and the candidate-volume
// counters behind ReportStats.
type qualityOutput struct {
	Kept          []types.CanonicalPaper `json:"kept"`
	EvidenceTable []types.EvidenceRow    `json:"evidence_table"`
	Brief         []types.ClaimSentence  `json:"brief"`

	Coverage              types.Coverage        `json:"coverage"`
	NormalizedQuery       types.NormalizedQuery `json:"normalized_query"`
	RetrievedTotal        int                   `json:"retrieved_total"`
	CandidatesFiltered    int                   `json:"candidates_filtered"`
	AbstractEligibleTotal int                   `json:"abstract_eligible_total"`
}

// runQualityFilter scores and hard-rejects canonical papers, then builds
// the evidence table and claim brief from whatever survives.
func (r *Runner) runQualityFilter(ctx context.Context, in dedupeOutput, req types.SearchRequest) (qualityOutput, error) {
	kept := quality.Filter(in.CanonicalPapers, req, r.now())

	maxRows := req.MaxEvidenceRows
	if maxRows <= 0 {
		maxRows = defaultMaxEvidenceRows
	}

	brief, labels := quality.BuildBrief(kept)
	evidence := quality.BuildEvidenceTable(kept, maxRows, labels)

	abstractEligible := 0
	for _, p := range in.CanonicalPapers {
		if p.Abstract != "" {
			abstractEligible++
		}
	}

	return qualityOutput{
		Kept:                  kept,
		EvidenceTable:         evidence,
		Brief:                 brief,
		Coverage:              in.Coverage,
		NormalizedQuery:       in.NormalizedQuery,
		RetrievedTotal:        in.RetrievedTotal,
		CandidatesFiltered:    len(in.CanonicalPapers) - len(kept),
		AbstractEligibleTotal: abstractEligible,
	}, nil
}
