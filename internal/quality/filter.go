package quality

import (
	"sort"
	"strings"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

const qTotalRejectThreshold = 0.6
const methodsTransparencyRejectThreshold = 0.35

var empiricalSignalTokens = []string{"trial", "cohort", "experiment", "experimental", "randomized", "randomised", "intervention"}

// empiricalSignalExpected reports whether a paper's title/abstract reads as
// an empirical study (as opposed to e.g. an editorial or opinion piece),
// meaning a missing methods section is suspicious rather than normal.
func empiricalSignalExpected(p types.CanonicalPaper) bool {
	text := strings.ToLower(p.Title + " " + p.Abstract)
	for _, tok := range empiricalSignalTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// HardReject evaluates the hard-rejection rules against an already-scored
// paper, returning whether it's rejected and why.
func HardReject(p types.CanonicalPaper, b types.QualityScoreBreakdown, req types.SearchRequest) (bool, string) {
	if p.IsRetracted {
		return true, "retracted"
	}
	if req.ExcludePreprints && p.IsPreprint {
		return true, "preprint_excluded"
	}
	if !withinRequestedTimeframe(p.Year, req) {
		return true, "year_outside_filter"
	}
	if empiricalSignalExpected(p) && !p.MethodsPresent && b.MethodsTransparency < methodsTransparencyRejectThreshold {
		return true, "missing_methods_for_empirical_study"
	}
	if b.QTotal < qTotalRejectThreshold {
		return true, "quality_below_threshold"
	}
	return false, ""
}

// Filter scores every candidate, applies hard-rejection, and returns the
// kept papers sorted by q_total desc, then relevance_score desc, then
// citation_count desc — each with its Quality breakdown populated and
// hard_rejected left false. No kept paper has hard_rejected=true.
func Filter(papers []types.CanonicalPaper, req types.SearchRequest, asOf time.Time) []types.CanonicalPaper {
	kept := make([]types.CanonicalPaper, 0, len(papers))
	for _, p := range papers {
		b := Score(p, req, asOf)
		if rejected, reason := HardReject(p, b, req); rejected {
			b.HardRejected = true
			b.HardRejectReason = reason
			continue
		}
		p.Quality = b
		kept = append(kept, p)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Quality.QTotal != kept[j].Quality.QTotal {
			return kept[i].Quality.QTotal > kept[j].Quality.QTotal
		}
		if kept[i].RelevanceScore != kept[j].RelevanceScore {
			return kept[i].RelevanceScore > kept[j].RelevanceScore
		}
		return kept[i].CitationCount > kept[j].CitationCount
	})
	return kept
}
