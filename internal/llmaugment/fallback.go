package llmaugment

import (
	"regexp"
	"strings"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

const maxFallbackStudies = 50

var sentenceEnd = regexp.MustCompile(`[.!?]`)

// synthesizeFallback builds up to maxFallbackStudies "fallback" partial
// studies directly from canonical records, used only when both the
// strict and partial tiers came back empty but quality-kept papers
// exist — better a thin fallback result set than an empty report.
func synthesizeFallback(kept []types.CanonicalPaper) []types.StudyResult {
	n := len(kept)
	if n > maxFallbackStudies {
		n = maxFallbackStudies
	}

	studies := make([]types.StudyResult, 0, n)
	for i := 0; i < n; i++ {
		p := kept[i]
		var source types.ProviderSource
		if len(p.Provenance) > 0 {
			source = p.Provenance[0].Source
		}
		preprintStatus := "published"
		if p.IsPreprint {
			preprintStatus = "preprint"
		}

		studies = append(studies, types.StudyResult{
			StudyID:     p.PaperID,
			Title:       p.Title,
			Year:        p.Year,
			StudyDesign: types.DesignUnknown,
			Outcomes: []types.Outcome{{
				OutcomeMeasured: "summary",
				KeyResult:       firstSentence(p.Abstract),
				CitationSnippet: firstSentence(p.Abstract),
			}},
			Citation: types.Citation{
				DOI: p.DOI, PubmedID: p.PubmedID, OpenAlexID: p.OpenAlexID,
			},
			AbstractExcerpt: p.Abstract,
			PreprintStatus:  preprintStatus,
			ReviewType:      types.ReviewNone,
			Source:          source,
			Tier:            "fallback",
		})
	}
	return studies
}

func firstSentence(abstract string) string {
	if abstract == "" {
		return ""
	}
	if loc := sentenceEnd.FindStringIndex(abstract); loc != nil {
		return strings.TrimSpace(abstract[:loc[0]])
	}
	return strings.TrimSpace(abstract)
}
