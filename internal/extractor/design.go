package extractor

import (
	"strings"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// designFamily is one study-design keyword family, checked in priority
// order (meta-analysis/systematic review outrank RCT, which outranks the
// weaker observational designs) since an abstract can use several of these
// words at once (e.g. a meta-analysis "reviewing randomized trials").
type designFamily struct {
	design   string
	keywords []string
}

var designFamilies = []designFamily{
	{"meta-analysis", []string{"meta-analysis", "meta analysis"}},
	{"systematic review", []string{"systematic review"}},
	{"RCT", []string{"randomized controlled trial", "randomised controlled trial", "double-blind", "double blind", "placebo-controlled", "randomized to"}},
	{"cohort", []string{"cohort study", "prospective cohort", "retrospective cohort", "longitudinal study"}},
	{"cross-sectional", []string{"cross-sectional", "cross sectional", "survey of"}},
	{"review", []string{"literature review", "narrative review", "scoping review"}},
}

// classifyStudyDesign assigns a StudyDesign and a free-text review type hint
// from title/abstract keyword families. "review" matches meta-analysis,
// systematic review, and narrative/scoping reviews; only the first two
// reflect a non-None ReviewType.
func classifyStudyDesign(title, abstract string) (types.StudyDesign, types.ReviewType) {
	text := strings.ToLower(title + " " + abstract)
	for _, fam := range designFamilies {
		for _, kw := range fam.keywords {
			if !strings.Contains(text, kw) {
				continue
			}
			switch fam.design {
			case "meta-analysis":
				return types.DesignReview, types.ReviewMetaAnalysis
			case "systematic review":
				return types.DesignReview, types.ReviewSystematic
			case "review":
				return types.DesignReview, types.ReviewNone
			case "RCT":
				return types.DesignRCT, types.ReviewNone
			case "cohort":
				return types.DesignCohort, types.ReviewNone
			case "cross-sectional":
				return types.DesignCrossSectional, types.ReviewNone
			}
		}
	}
	return types.DesignUnknown, types.ReviewNone
}
