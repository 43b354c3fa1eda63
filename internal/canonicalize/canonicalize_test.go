package canonicalize

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

func TestNormalizeDOIIsIdempotentAcrossForms(t *testing.T) {
	forms := []string{
		"https://doi.org/10.1000/ABC",
		"10.1000/ABC",
		"DOI: 10.1000/abc",
		"dx.doi.org/10.1000/abc",
	}
	for _, f := range forms {
		got := NormalizeDOI(f)
		require.Equal(t, "10.1000/abc", got)
		require.Equal(t, got, NormalizeDOI(got))
	}
}

func singleProviderOpenAlexDOI() []types.UnifiedPaper {
	return []types.UnifiedPaper{{
		ID: "w1", Title: "Effects of Aspirin on Stroke Risk: A Randomized Controlled Trial",
		Year: 2020, Abstract: "This randomized controlled trial enrolled 500 participants using a double-blind protocol with a sample of adults.",
		Authors: []string{"J. Smith", "A. Jones"}, Venue: "Lancet",
		Source: types.SourceOpenAlex, DOI: "10.1000/ABC", CitationCount: 10, RankSignal: 0.8,
	}}
}

func TestSeedScenarioSingleProviderSuccess(t *testing.T) {
	m := New(nil)
	out, err := m.Canonicalize(context.Background(), singleProviderOpenAlexDOI())
	require.NoError(t, err)
	require.Len(t, out, 1)

	p := out[0]
	require.Equal(t, "10.1000/abc", p.DOI)
	require.Len(t, p.Provenance, 1)
	require.Equal(t, types.SourceOpenAlex, p.Provenance[0].Source)
	require.Equal(t, "randomized controlled trial", p.StudyDesignHint)
	require.True(t, p.MethodsPresent)
}

func TestSeedScenarioDedupeByDOI(t *testing.T) {
	papers := []types.UnifiedPaper{
		{
			ID: "oa-1", Title: "Effects of Aspirin on Stroke Risk",
			Year: 2020, Authors: []string{"J. Smith", "A. Jones"},
			Source: types.SourceOpenAlex, DOI: "10.1000/ABC", CitationCount: 10, RankSignal: 0.7,
		},
		{
			ID: "s2-1", Title: "Effects of Aspirin on Stroke Risk",
			Year: 2020, Authors: []string{"J. Smith", "A. Jones"},
			Source: types.SourceSemanticScholar, DOI: "https://doi.org/10.1000/abc",
			CitationCount: 15, PubmedID: "PM1", RankSignal: 0.9,
		},
	}

	m := New(nil)
	out, err := m.Canonicalize(context.Background(), papers)
	require.NoError(t, err)
	require.Len(t, out, 1)

	p := out[0]
	require.Equal(t, "PM1", p.PubmedID)
	require.Equal(t, 15, p.CitationCount)
	require.Len(t, p.Provenance, 2)
}

func TestCanonicalizeIsInvariantUnderPermutation(t *testing.T) {
	base := []types.UnifiedPaper{
		{ID: "a1", Title: "Gene Therapy Outcomes in Rare Disease", Year: 2019,
			Authors: []string{"A. One", "B. Two"}, Source: types.SourceOpenAlex, DOI: "10.1/x", RankSignal: 0.5},
		{ID: "a2", Title: "Gene Therapy Outcomes in Rare Disease", Year: 2019,
			Authors: []string{"A. One", "B. Two"}, Source: types.SourceSemanticScholar, DOI: "10.1/x", RankSignal: 0.6},
		{ID: "b1", Title: "Unrelated Climate Modeling Study", Year: 2021,
			Authors: []string{"C. Three"}, Source: types.SourcePubmed, PubmedID: "PM9", RankSignal: 0.4},
	}

	first := make([]types.UnifiedPaper, len(base))
	copy(first, base)
	m1 := New(nil)
	out1, err := m1.Canonicalize(context.Background(), first)
	require.NoError(t, err)

	shuffled := make([]types.UnifiedPaper, len(base))
	copy(shuffled, base)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	m2 := New(nil)
	out2, err := m2.Canonicalize(context.Background(), shuffled)
	require.NoError(t, err)

	require.Len(t, out1, 2)
	require.Len(t, out2, 2)

	ids1 := paperIDs(out1)
	ids2 := paperIDs(out2)
	require.ElementsMatch(t, ids1, ids2)
}

func paperIDs(papers []types.CanonicalPaper) []string {
	out := make([]string, len(papers))
	for i, p := range papers {
		out[i] = p.PaperID
	}
	return out
}

func TestFallbackMergeByTitleAndAuthorSimilarity(t *testing.T) {
	papers := []types.UnifiedPaper{
		{ID: "x1", Title: "Machine Learning Approaches for Early Cancer Detection", Year: 2021,
			Authors: []string{"Alice Brown", "Bob Green"}, Source: types.SourceOpenAlex, RankSignal: 0.5},
		{ID: "x2", Title: "Machine Learning Approaches for Early Cancer Detection!", Year: 2022,
			Authors: []string{"Alice Brown", "Carol White"}, Source: types.SourceSemanticScholar, RankSignal: 0.6},
	}
	m := New(nil)
	out, err := m.Canonicalize(context.Background(), papers)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Provenance, 2)
}

func TestDistinctYearBeyondDeltaDoesNotMerge(t *testing.T) {
	papers := []types.UnifiedPaper{
		{ID: "y1", Title: "A Study of Cardiac Outcomes", Year: 2010,
			Authors: []string{"A. Name"}, Source: types.SourceOpenAlex, RankSignal: 0.5},
		{ID: "y2", Title: "A Study of Cardiac Outcomes", Year: 2020,
			Authors: []string{"A. Name"}, Source: types.SourceSemanticScholar, RankSignal: 0.5},
	}
	m := New(nil)
	out, err := m.Canonicalize(context.Background(), papers)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func setupRecordCache(t *testing.T) *cache.Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "corpuspipe.db")
	backend, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return cache.New("canonical_record", backend, time.Hour)
}

func TestCanonicalizeConsultsAndPopulatesRecordCache(t *testing.T) {
	c := setupRecordCache(t)
	m := New(c)
	ctx := context.Background()

	first, err := m.Canonicalize(ctx, singleProviderOpenAlexDOI())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// a second, disjoint candidate that shares the same fingerprint (same
	// normalized title/year/DOI) but arrives from a different provider
	// should fold the cached record's provenance into the new result.
	second := []types.UnifiedPaper{{
		ID: "pm1", Title: "Effects of Aspirin on Stroke Risk: A Randomized Controlled Trial",
		Year: 2020, Authors: []string{"J. Smith", "A. Jones"}, Source: types.SourcePubmed,
		DOI: "10.1000/abc", PubmedID: "PM2", CitationCount: 3, RankSignal: 0.4,
	}}
	out, err := m.Canonicalize(ctx, second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.GreaterOrEqual(t, len(out[0].Provenance), 1)
}
