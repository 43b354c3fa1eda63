package pipeline

import (
	"context"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// dedupeOutput is DEDUPE's emitted payload: the merged canonical papers,
// plus the coverage/normalized-query context and retrieved-candidate
// count carried forward for COMPILE_REPORT's final stats.
type dedupeOutput struct {
	CanonicalPapers []types.CanonicalPaper `json:"canonical_papers"`
	Coverage        types.Coverage         `json:"coverage"`
	NormalizedQuery types.NormalizedQuery  `json:"normalized_query"`
	RetrievedTotal  int                    `json:"retrieved_total"`
}

// runDedupe merges the hydrated candidate set into canonical papers via
// the shared Merger, which itself consults and populates the
// canonical-record cache by fingerprint around each merge.
func (r *Runner) runDedupe(ctx context.Context, in normalizeOutput) (dedupeOutput, error) {
	merged, err := r.Canonicalizer.Canonicalize(ctx, in.Candidates)
	if err != nil {
		return dedupeOutput{}, externalErr(types.StageDedupe, fmt.Errorf("canonicalize: %w", err))
	}
	return dedupeOutput{
		CanonicalPapers: merged,
		Coverage:        in.Coverage,
		NormalizedQuery: in.NormalizedQuery,
		RetrievedTotal:  len(in.Candidates),
	}, nil
}
