// Package quality scores canonical papers along five weighted axes, applies
// hard-rejection rules, and builds the ranked evidence table and claim-level
// brief QUALITY_FILTER hands to later stages.
package quality

import (
	"math"
	"strings"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

const (
	weightAuthority = 0.30
	weightDesign    = 0.25
	weightMethods   = 0.20
	weightCitations = 0.15
	weightRecency   = 0.10

	minSourceAuthority = 0.25
	recencyBonus       = 0.15
	recencyHalfLifeYrs = 8.0
)

var methodsTransparencyTokens = []string{"method", "methods", "participants", "sample", "dataset", "randomized", "protocol"}

func hasTwoDigitNumber(s string) bool {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
			if digits >= 2 {
				return true
			}
		} else {
			digits = 0
		}
	}
	return false
}

// Score computes the five-axis QualityScoreBreakdown for one canonical
// paper, not yet applying hard-rejection (see HardReject).
func Score(p types.CanonicalPaper, req types.SearchRequest, asOf time.Time) types.QualityScoreBreakdown {
	b := types.QualityScoreBreakdown{
		SourceAuthority:     sourceAuthority(p),
		StudyDesignStrength: studyDesignStrength(p),
		MethodsTransparency: methodsTransparency(p.Abstract),
		CitationImpact:      citationImpact(p, asOf),
		RecencyFit:          recencyFit(p, req, asOf),
	}
	b.QTotal = weightAuthority*b.SourceAuthority +
		weightDesign*b.StudyDesignStrength +
		weightMethods*b.MethodsTransparency +
		weightCitations*b.CitationImpact +
		weightRecency*b.RecencyFit
	return b
}

func sourceAuthority(p types.CanonicalPaper) float64 {
	max := 0.0
	for _, entry := range p.Provenance {
		if entry.MetadataConfidence > max {
			max = entry.MetadataConfidence
		}
	}
	if max > minSourceAuthority {
		return max
	}
	return minSourceAuthority
}

func studyDesignStrength(p types.CanonicalPaper) float64 {
	switch p.StudyDesignHint {
	case "meta-analysis", "systematic review":
		return 0.9
	case "randomized controlled trial":
		return 0.86
	case "cohort study":
		return 0.72
	case "cross-sectional study":
		return 0.64
	case "review":
		return 0.62
	}
	if p.IsPreprint {
		return 0.45
	}
	return 0.55
}

func methodsTransparency(abstract string) float64 {
	lower := strings.ToLower(abstract)
	present := 0
	for _, tok := range methodsTransparencyTokens {
		if strings.Contains(lower, tok) {
			present++
		}
	}
	share := float64(present) / float64(len(methodsTransparencyTokens))
	score := share * 0.75
	if hasTwoDigitNumber(abstract) {
		score += 0.25
	}
	return score
}

func ageYears(p types.CanonicalPaper, asOf time.Time) float64 {
	age := float64(asOf.Year() - p.Year)
	if age < 1 {
		age = 1
	}
	return age
}

func citationImpact(p types.CanonicalPaper, asOf time.Time) float64 {
	age := ageYears(p, asOf)
	raw := math.Log1p(float64(p.CitationCount)/(age*10)) / math.Log1p(20)
	return clamp01(raw)
}

func recencyFit(p types.CanonicalPaper, req types.SearchRequest, asOf time.Time) float64 {
	fit := math.Exp(-ageYears(p, asOf) / recencyHalfLifeYrs)
	if withinRequestedTimeframe(p.Year, req) {
		fit += recencyBonus
	}
	return fit
}

func withinRequestedTimeframe(year int, req types.SearchRequest) bool {
	if req.FromYear > 0 && year < req.FromYear {
		return false
	}
	if req.ToYear > 0 && year > req.ToYear {
		return false
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
