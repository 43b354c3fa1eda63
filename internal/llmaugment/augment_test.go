package llmaugment

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

func gapStudy() types.StudyResult {
	return types.StudyResult{
		StudyID:     "paper_1",
		Title:       "A Trial",
		Year:        2022,
		StudyDesign: types.DesignRCT,
		Outcomes: []types.Outcome{
			{OutcomeMeasured: "blood pressure", CitationSnippet: "pressure dropped"},
		},
		Citation:        types.Citation{},
		AbstractExcerpt: "An abstract.",
	}
}

func TestHasNullableGapsTrueWhenSampleSizeMissing(t *testing.T) {
	require.True(t, hasNullableGaps(gapStudy()))
}

func TestHasNullableGapsFalseWhenFullyPopulated(t *testing.T) {
	n := 100
	pop := "adults"
	full := gapStudy()
	full.SampleSize = &n
	full.Population = &pop
	full.CitationCount = &n
	u := "https://x"
	full.PDFURL = &u
	full.LandingPageURL = &u
	full.Citation = types.Citation{DOI: "10.1/x", PubmedID: "1", OpenAlexID: "W1"}
	full.Outcomes = []types.Outcome{{
		OutcomeMeasured: "bp", CitationSnippet: "s", KeyResult: "k",
		Intervention: "a", Comparator: "b", EffectSize: "OR 1", PValue: "p<0.05",
	}}
	require.False(t, hasNullableGaps(full))
}

type scriptedAugmenter struct {
	response string
	err      error
}

func (s *scriptedAugmenter) Augment(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func augmentedPayload(studyID string, sampleSize int) string {
	b, _ := json.Marshal([]payloadStudy{{
		StudyID: studyID, Title: "A Trial", Year: 2022, StudyDesign: string(types.DesignRCT),
		SampleSize: &sampleSize,
		Outcomes: []payloadOutcome{{EffectSize: "OR 0.8", PValue: "p<0.05"}},
	}})
	return string(b)
}

func TestRunMergesModelFieldsIntoDeterministicBaseline(t *testing.T) {
	result, err := Run(context.Background(), []types.StudyResult{gapStudy()}, Options{
		Client: &scriptedAugmenter{response: augmentedPayload("paper_1", 200)},
	})
	require.NoError(t, err)
	require.Len(t, result.Studies, 1)
	require.True(t, result.LLMFallbackApplied)
	require.NotNil(t, result.Studies[0].SampleSize)
	require.Equal(t, 200, *result.Studies[0].SampleSize)
	require.Equal(t, "OR 0.8", result.Studies[0].Outcomes[0].EffectSize)
	require.Equal(t, "blood pressure", result.Studies[0].Outcomes[0].OutcomeMeasured, "identity fields never overwritten by the model")
}

func TestRunFallsBackToDeterministicOnModelError(t *testing.T) {
	result, err := Run(context.Background(), []types.StudyResult{gapStudy()}, Options{
		Client: &scriptedAugmenter{err: errBoom},
	})
	require.NoError(t, err)
	require.False(t, result.LLMFallbackApplied)
	require.Nil(t, result.Studies[0].SampleSize)
	require.Equal(t, 1, result.FallbackReasons["llm_call_failed"])
}

func TestRunSkipsModelCallWhenNoGapsPresent(t *testing.T) {
	n := 1
	str := "x"
	s := gapStudy()
	s.SampleSize = &n
	s.Population = &str
	s.CitationCount = &n
	s.PDFURL = &str
	s.LandingPageURL = &str
	s.Citation = types.Citation{DOI: "d", PubmedID: "p", OpenAlexID: "o"}
	s.Outcomes = []types.Outcome{{
		OutcomeMeasured: "bp", CitationSnippet: "s", KeyResult: "k",
		Intervention: "a", Comparator: "b", EffectSize: "OR 1", PValue: "p<0.05",
	}}

	result, err := Run(context.Background(), []types.StudyResult{s}, Options{
		Client: &scriptedAugmenter{err: errBoom},
	})
	require.NoError(t, err)
	require.False(t, result.LLMFallbackApplied)
}

func TestRunSynthesizesFallbackWhenBothTiersEmpty(t *testing.T) {
	dropped := types.StudyResult{StudyID: "paper_2", Title: "", StudyDesign: types.DesignUnknown}
	result, err := Run(context.Background(), []types.StudyResult{dropped}, Options{
		KeptCanonical: []types.CanonicalPaper{{PaperID: "paper_2", Title: "A Trial", Year: 2022, Abstract: "First sentence here. Second sentence."}},
	})
	require.NoError(t, err)
	require.Len(t, result.Studies, 1)
	require.Equal(t, "fallback", result.Studies[0].Tier)
}

var errBoom = &stubErr{"boom"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
