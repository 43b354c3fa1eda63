package canonicalize

import "github.com/corpuspipe/corpuspipe/internal/types"

// DefaultTrust is the per-provider metadata-confidence prior used as a
// canonical paper's provenance entry and as the seed for source_authority
// in quality scoring. PubMed's curated indexing earns the highest trust;
// arXiv preprints are unreviewed and earn the lowest.
var DefaultTrust = map[types.ProviderSource]float64{
	types.SourcePubmed:          0.92,
	types.SourceOpenAlex:        0.85,
	types.SourceSemanticScholar: 0.80,
	types.SourceArxiv:           0.55,
}

const fallbackTrust = 0.5

func trustFor(source types.ProviderSource) float64 {
	if t, ok := DefaultTrust[source]; ok {
		return t
	}
	return fallbackTrust
}
