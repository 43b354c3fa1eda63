package llmaugment

import (
	"strings"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// hasNullableGaps reports whether s has any of the gaps LLM_AUGMENT is
// allowed to fill: sample_size, population, an outcome missing
// key_result/intervention/comparator/effect_size/p_value, citation
// doi/pubmed_id/openalex_id, citation_count, pdf_url, or landing_page_url.
func hasNullableGaps(s types.StudyResult) bool {
	if s.SampleSize == nil || s.Population == nil || s.CitationCount == nil ||
		s.PDFURL == nil || s.LandingPageURL == nil {
		return true
	}
	if s.Citation.DOI == "" || s.Citation.PubmedID == "" || s.Citation.OpenAlexID == "" {
		return true
	}
	for _, o := range s.Outcomes {
		if o.KeyResult == "" || o.Intervention == "" || o.Comparator == "" || o.EffectSize == "" || o.PValue == "" {
			return true
		}
	}
	return false
}

// AnyHasNullableGaps reports whether augmentation should run at all for a
// batch of deterministic results.
func AnyHasNullableGaps(results []types.StudyResult) bool {
	for _, r := range results {
		if hasNullableGaps(r) {
			return true
		}
	}
	return false
}

// mergeStudy takes base as truth and copies over any field that is null/
// empty in base and non-null in the model payload. study_id, title, year,
// study_design, and review_type/source/preprint_status are never taken
// from the model — those are base's alone, matching the "may only fill
// nullable fields" rule.
func mergeStudy(base types.StudyResult, aug payloadStudy) types.StudyResult {
	merged := base

	if merged.SampleSize == nil && aug.SampleSize != nil {
		merged.SampleSize = aug.SampleSize
	}
	if merged.Population == nil && aug.Population != nil {
		merged.Population = aug.Population
	}
	if merged.CitationCount == nil && aug.CitationCount != nil {
		merged.CitationCount = aug.CitationCount
	}
	if merged.PDFURL == nil && aug.PDFURL != nil {
		merged.PDFURL = aug.PDFURL
	}
	if merged.LandingPageURL == nil && aug.LandingPageURL != nil {
		merged.LandingPageURL = aug.LandingPageURL
	}
	if merged.Citation.DOI == "" {
		merged.Citation.DOI = aug.Citation.DOI
	}
	if merged.Citation.PubmedID == "" {
		merged.Citation.PubmedID = aug.Citation.PubmedID
	}
	if merged.Citation.OpenAlexID == "" {
		merged.Citation.OpenAlexID = aug.Citation.OpenAlexID
	}

	merged.Outcomes = mergeOutcomes(base.Outcomes, aug.Outcomes)
	return merged
}

// mergeOutcomes merges base outcomes with the model's augmented outcomes,
// keyed by (outcome_measured lower-trim, citation_snippet lower-trim); if
// no key match is found (the model response doesn't echo those
// identifying fields), alignment falls back to position.
func mergeOutcomes(base []types.Outcome, aug []payloadOutcome) []types.Outcome {
	if len(aug) == 0 {
		return base
	}

	byKey := make(map[string]payloadOutcome, len(aug))
	for i, a := range aug {
		if i < len(base) {
			key := outcomeKey(base[i].OutcomeMeasured, base[i].CitationSnippet)
			byKey[key] = a
		}
	}

	merged := make([]types.Outcome, len(base))
	for i, o := range base {
		var fill payloadOutcome
		if a, ok := byKey[outcomeKey(o.OutcomeMeasured, o.CitationSnippet)]; ok {
			fill = a
		} else if i < len(aug) {
			fill = aug[i]
		}

		merged[i] = o
		if merged[i].KeyResult == "" {
			merged[i].KeyResult = fill.KeyResult
		}
		if merged[i].Intervention == "" {
			merged[i].Intervention = fill.Intervention
		}
		if merged[i].Comparator == "" {
			merged[i].Comparator = fill.Comparator
		}
		if merged[i].EffectSize == "" {
			merged[i].EffectSize = fill.EffectSize
		}
		if merged[i].PValue == "" {
			merged[i].PValue = fill.PValue
		}
	}
	return merged
}

func outcomeKey(outcomeMeasured, citationSnippet string) string {
	return strings.ToLower(strings.TrimSpace(outcomeMeasured)) + "|" + strings.ToLower(strings.TrimSpace(citationSnippet))
}
