package extractor

import "github.com/corpuspipe/corpuspipe/internal/types"

const strictAbstractExcerptMinLen = 50

// ClassifyTier is the exported form of tier, for callers outside this
// package that recompute completeness after merging in augmented fields
// (internal/llmaugment).
func ClassifyTier(s types.StudyResult) string { return tier(s) }

// tier classifies a built StudyResult into the strict/partial/dropped
// completeness tiers. The tiers are disjoint: a strict-complete study
// satisfies all five strict predicates, so it never also qualifies for
// partial under these checks (partial additionally requires
// citation_snippet, which strict doesn't examine but every strict study's
// qualifying outcome has anyway by construction of extractOutcomeSentences).
func tier(s types.StudyResult) string {
	hasOutcomeMeasured := false
	hasStrictSecondary := false
	hasCitationSnippet := false
	for _, o := range s.Outcomes {
		if o.OutcomeMeasured == "" {
			continue
		}
		hasOutcomeMeasured = true
		if o.EffectSize != "" || o.PValue != "" || o.Intervention != "" || o.Comparator != "" {
			hasStrictSecondary = true
		}
		if o.CitationSnippet != "" {
			hasCitationSnippet = true
		}
	}

	baseOK := s.Title != "" && s.Year != 0 && s.StudyDesign != types.DesignUnknown

	if baseOK && len(s.AbstractExcerpt) >= strictAbstractExcerptMinLen && hasOutcomeMeasured && hasStrictSecondary {
		return "strict"
	}
	if baseOK && hasOutcomeMeasured && hasCitationSnippet {
		return "partial"
	}
	return "dropped"
}
