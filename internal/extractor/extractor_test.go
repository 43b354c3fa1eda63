package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

func rctCanonical() types.CanonicalPaper {
	return types.CanonicalPaper{
		PaperID: "paper_abc",
		Title:   "A Randomized Controlled Trial of Aspirin for Stroke Prevention",
		Year:    2020,
		Abstract: "This double-blind randomized controlled trial enrolled n=500 participants. " +
			"Treatment significantly reduced stroke incidence versus placebo (OR 0.65, p<0.01).",
		DOI:           "10.1000/abc",
		CitationCount: 12,
		Provenance:    []types.ProvenanceEntry{{Source: types.SourcePubmed, MetadataConfidence: 0.9}},
	}
}

func TestClassifyStudyDesignRCT(t *testing.T) {
	design, reviewType := classifyStudyDesign("A Randomized Controlled Trial", "double-blind study")
	require.Equal(t, types.DesignRCT, design)
	require.Equal(t, types.ReviewNone, reviewType)
}

func TestClassifyStudyDesignMetaAnalysis(t *testing.T) {
	design, reviewType := classifyStudyDesign("A Meta-Analysis of Outcomes", "")
	require.Equal(t, types.DesignReview, design)
	require.Equal(t, types.ReviewMetaAnalysis, reviewType)
}

func TestClassifyStudyDesignUnknown(t *testing.T) {
	design, _ := classifyStudyDesign("An Opinion Piece", "just a commentary")
	require.Equal(t, types.DesignUnknown, design)
}

func TestExtractSampleSizeFromNEquals(t *testing.T) {
	n := extractSampleSize("The study enrolled n=500 participants over two years.")
	require.NotNil(t, n)
	require.Equal(t, 500, *n)
}

func TestExtractSampleSizeFromParticipantsPhrase(t *testing.T) {
	n := extractSampleSize("A total of 1,200 patients were recruited across five sites.")
	require.NotNil(t, n)
	require.Equal(t, 1200, *n)
}

func TestExtractSampleSizeRejectsOutOfRange(t *testing.T) {
	n := extractSampleSize("n=1 participant was excluded.")
	require.Nil(t, n)
}

func TestExtractPopulationTruncates(t *testing.T) {
	abstract := "Background information with no population terms. " +
		"We enrolled adults aged 18-65 with hypertension from six outpatient clinics across the region for this analysis."
	pop := extractPopulation(abstract)
	require.NotNil(t, pop)
	require.LessOrEqual(t, len(*pop), populationExcerptMaxLen)
	require.Contains(t, *pop, "adults")
}

func TestExtractOutcomeSentencesParsesEffectAndPValue(t *testing.T) {
	abstract := "Treatment significantly reduced systolic blood pressure versus placebo (OR 0.65, p<0.01)."
	outcomes := extractOutcomeSentences(abstract)
	require.Len(t, outcomes, 1)
	require.Equal(t, "OR 0.65", outcomes[0].EffectSize)
	require.Equal(t, "p<0.01", outcomes[0].PValue)
	require.Equal(t, "Treatment significantly reduced systolic blood pressure", outcomes[0].Intervention)
	require.Equal(t, "placebo", outcomes[0].Comparator)
}

func TestExtractOutcomeSentencesDedupesIdenticalSentences(t *testing.T) {
	abstract := "Treatment significantly reduced pain versus placebo (p<0.05). " +
		"Treatment significantly reduced pain versus placebo (p<0.05)."
	outcomes := extractOutcomeSentences(abstract)
	require.Len(t, outcomes, 1)
}

func TestTierStrictRequiresAbstractAndSecondaryField(t *testing.T) {
	s := types.StudyResult{
		Title: "X", Year: 2020, StudyDesign: types.DesignRCT,
		AbstractExcerpt: "An abstract at least fifty characters long for the strict tier check here.",
		Outcomes:        []types.Outcome{{OutcomeMeasured: "pain", EffectSize: "OR 0.5"}},
	}
	require.Equal(t, "strict", tier(s))
}

func TestTierPartialRequiresOutcomeAndSnippet(t *testing.T) {
	s := types.StudyResult{
		Title: "X", Year: 2020, StudyDesign: types.DesignCohort,
		AbstractExcerpt: "short",
		Outcomes:        []types.Outcome{{OutcomeMeasured: "pain", CitationSnippet: "pain improved"}},
	}
	require.Equal(t, "partial", tier(s))
}

func TestTierDroppedWhenDesignUnknown(t *testing.T) {
	s := types.StudyResult{Title: "X", Year: 2020, StudyDesign: types.DesignUnknown}
	require.Equal(t, "dropped", tier(s))
}

func TestExtractProducesStrictForWellFormedRCT(t *testing.T) {
	results, stats, err := Extract(context.Background(), []types.CanonicalPaper{rctCanonical()}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "strict", results[0].Tier)
	require.Equal(t, 1, stats.StrictCount)
	require.Equal(t, types.DesignRCT, results[0].StudyDesign)
	require.NotNil(t, results[0].SampleSize)
	require.Equal(t, 500, *results[0].SampleSize)
}

func TestExtractClampsLimitToCandidateCount(t *testing.T) {
	results, _, err := Extract(context.Background(), []types.CanonicalPaper{rctCanonical()}, Options{Limit: 45})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

type fakePDFExtractor struct {
	results []PDFExtractResult
	err     error
}

func (f *fakePDFExtractor) Extract(ctx context.Context, reqs []PDFExtractRequest) ([]PDFExtractResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func TestApplyPDFExtractorFallsBackOnBatchError(t *testing.T) {
	p := rctCanonical()
	p.PDFURL = "https://example.com/a.pdf"
	results := []types.StudyResult{buildDeterministic(p)}
	fallbacks := map[string]int{}

	out, usedAny := applyPDFExtractor(context.Background(), results, []types.CanonicalPaper{p},
		Options{PDFClient: &fakePDFExtractor{err: errTest}}, fallbacks)
	require.False(t, usedAny)
	require.Equal(t, results[0].StudyID, out[0].StudyID)
	require.Equal(t, 1, fallbacks["pdf_extractor_error"])
}

var errTest = &testError{"simulated pdf extractor failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
