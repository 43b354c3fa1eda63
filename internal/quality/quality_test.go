package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

func asOf(year int) time.Time { return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC) }

func rctPaper() types.CanonicalPaper {
	return types.CanonicalPaper{
		PaperID:         "paper_abc",
		Title:           "A Randomized Controlled Trial of Aspirin for Stroke Prevention",
		Year:            2020,
		Abstract:        "This randomized controlled trial enrolled 500 participants using a double-blind protocol and a representative sample.",
		CitationCount:   40,
		StudyDesignHint: "randomized controlled trial",
		MethodsPresent:  true,
		Provenance:      []types.ProvenanceEntry{{Source: types.SourcePubmed, MetadataConfidence: 0.92}},
	}
}

func TestScoreHighQualityRCTExceedsThreshold(t *testing.T) {
	b := Score(rctPaper(), types.SearchRequest{}, asOf(2024))
	require.Greater(t, b.QTotal, qTotalRejectThreshold)
	require.Equal(t, 0.86, b.StudyDesignStrength)
	require.Equal(t, 0.92, b.SourceAuthority)
}

func TestHardRejectRetracted(t *testing.T) {
	p := rctPaper()
	p.IsRetracted = true
	b := Score(p, types.SearchRequest{}, asOf(2024))
	rejected, reason := HardReject(p, b, types.SearchRequest{})
	require.True(t, rejected)
	require.Equal(t, "retracted", reason)
}

func TestHardRejectExcludedPreprint(t *testing.T) {
	p := rctPaper()
	p.IsPreprint = true
	b := Score(p, types.SearchRequest{ExcludePreprints: true}, asOf(2024))
	rejected, reason := HardReject(p, b, types.SearchRequest{ExcludePreprints: true})
	require.True(t, rejected)
	require.Equal(t, "preprint_excluded", reason)
}

func TestHardRejectYearOutsideFilter(t *testing.T) {
	p := rctPaper()
	p.Year = 2001
	req := types.SearchRequest{FromYear: 2015, ToYear: 2025}
	b := Score(p, req, asOf(2024))
	rejected, reason := HardReject(p, b, req)
	require.True(t, rejected)
	require.Equal(t, "year_outside_filter", reason)
}

func TestHardRejectMissingMethodsForEmpiricalStudy(t *testing.T) {
	p := types.CanonicalPaper{
		PaperID: "paper_weak", Title: "A Clinical Trial Report", Year: 2022,
		Abstract:       "Brief note with no methodological detail at all.",
		MethodsPresent: false,
		Provenance:     []types.ProvenanceEntry{{Source: types.SourceOpenAlex, MetadataConfidence: 0.8}},
	}
	b := Score(p, types.SearchRequest{}, asOf(2024))
	rejected, reason := HardReject(p, b, types.SearchRequest{})
	require.True(t, rejected)
	require.Equal(t, "missing_methods_for_empirical_study", reason)
}

func TestHardRejectLowQTotal(t *testing.T) {
	p := types.CanonicalPaper{
		PaperID: "paper_low", Title: "An Opinion Piece", Year: 1990,
		Abstract:   "A short commentary with no empirical content.",
		Provenance: []types.ProvenanceEntry{{Source: types.SourceArxiv, MetadataConfidence: 0.3}},
	}
	b := Score(p, types.SearchRequest{}, asOf(2024))
	rejected, reason := HardReject(p, b, types.SearchRequest{})
	require.True(t, rejected)
	require.Equal(t, "quality_below_threshold", reason)
}

func TestFilterExcludesHardRejectedAndSortsByQTotal(t *testing.T) {
	good := rctPaper()
	retracted := rctPaper()
	retracted.PaperID = "paper_retracted"
	retracted.IsRetracted = true

	weak := types.CanonicalPaper{
		PaperID: "paper_weak", Title: "Untitled Commentary", Year: 1990,
		Abstract:   "No empirical signal here.",
		Provenance: []types.ProvenanceEntry{{Source: types.SourceArxiv, MetadataConfidence: 0.3}},
	}

	kept := Filter([]types.CanonicalPaper{weak, retracted, good}, types.SearchRequest{}, asOf(2024))
	require.Len(t, kept, 1)
	require.Equal(t, "paper_abc", kept[0].PaperID)
	require.False(t, kept[0].Quality.HardRejected)
}

func TestBuildEvidenceTableRanksAndCaps(t *testing.T) {
	a := rctPaper()
	a.Quality = Score(a, types.SearchRequest{}, asOf(2024))
	b := rctPaper()
	b.PaperID = "paper_def"
	b.Quality = Score(b, types.SearchRequest{}, asOf(2024))

	rows := BuildEvidenceTable([]types.CanonicalPaper{a, b}, 1, nil)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Rank)
	require.Equal(t, "paper_abc", rows[0].PaperID)
}

func TestBuildBriefConflictingDisposition(t *testing.T) {
	p1 := types.CanonicalPaper{
		PaperID: "paper_p1", Title: "Effect of Drug X on Blood Pressure", Year: 2022,
		Abstract: "Treatment significantly increased systolic blood pressure compared to placebo (p<0.05).",
	}
	p2 := types.CanonicalPaper{
		PaperID: "paper_p2", Title: "Effect of Drug X on Blood Pressure in Another Cohort", Year: 2021,
		Abstract: "Treatment significantly decreased systolic blood pressure compared to placebo (p<0.05).",
	}

	sentences, labels := BuildBrief([]types.CanonicalPaper{p1, p2})
	require.Len(t, sentences, 1)
	require.Equal(t, types.StanceConflicting, sentences[0].Stance)
	require.Equal(t, "conflicting", labels["paper_p1"])
	require.Equal(t, "conflicting", labels["paper_p2"])
}

func TestBuildBriefConsensusPositive(t *testing.T) {
	p1 := types.CanonicalPaper{
		PaperID: "paper_q1", Title: "Vaccine Efficacy Study", Year: 2022,
		Abstract: "Vaccination significantly increased antibody response associated with protection (OR 2.1, p<0.01).",
	}
	sentences, labels := BuildBrief([]types.CanonicalPaper{p1})
	require.Len(t, sentences, 1)
	require.Equal(t, types.StancePositive, sentences[0].Stance)
	require.Equal(t, "consensus_positive", labels["paper_q1"])
}

func TestSnippetHashIsDeterministic(t *testing.T) {
	require.Equal(t, snippetHash("a sentence"), snippetHash("a sentence"))
	require.NotEqual(t, snippetHash("a sentence"), snippetHash("another sentence"))
}
