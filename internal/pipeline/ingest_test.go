package pipeline

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/provider/fake"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// stubResolver returns a scripted (doi, confidence, err) for any title,
// counting how many times it was called.
type stubResolver struct {
	doi        string
	confidence float64
	err        error
	calls      int
}

func (s *stubResolver) Resolve(ctx context.Context, title string) (string, float64, error) {
	s.calls++
	return s.doi, s.confidence, s.err
}

func withMetadataMode(t *testing.T, mode config.MetadataEnrichmentMode) {
	t.Helper()
	require.NoError(t, os.Setenv("METADATA_ENRICHMENT_MODE", string(mode)))
	t.Cleanup(func() { _ = os.Unsetenv("METADATA_ENRICHMENT_MODE") })
	require.NoError(t, config.Initialize())
	t.Cleanup(func() { _ = config.Initialize() })
}

func TestEnrichMetadataResolvesInlineOnCacheMiss(t *testing.T) {
	withMetadataMode(t, config.EnrichInlineApply)

	r, _ := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", nil),
	})
	resolver := &stubResolver{doi: "10.1/resolved", confidence: 0.95}
	r.MetadataResolver = resolver

	candidates := []types.UnifiedPaper{{Title: "A Title Nobody Has Seen Before"}}
	out, err := r.enrichMetadata(context.Background(), candidates)
	require.NoError(t, err)
	require.Equal(t, 1, resolver.calls)
	require.Equal(t, "10.1/resolved", out[0].DOI)
}

func TestEnrichMetadataDeferredResolutionNotApplied(t *testing.T) {
	withMetadataMode(t, config.EnrichInlineApply)

	r, _ := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", nil),
	})
	resolver := &stubResolver{doi: "10.1/low-confidence", confidence: 0.8}
	r.MetadataResolver = resolver

	candidates := []types.UnifiedPaper{{Title: "Some Other Unseen Title"}}
	out, err := r.enrichMetadata(context.Background(), candidates)
	require.NoError(t, err)
	require.Empty(t, out[0].DOI)
}

func TestEnrichMetadataSkipsResolutionWhenNoResolverConfigured(t *testing.T) {
	withMetadataMode(t, config.EnrichInlineApply)

	r, _ := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", nil),
	})
	require.Nil(t, r.MetadataResolver)

	candidates := []types.UnifiedPaper{{Title: "Yet Another Unseen Title"}}
	out, err := r.enrichMetadata(context.Background(), candidates)
	require.NoError(t, err)
	require.Empty(t, out[0].DOI)
}

func TestEnrichMetadataPreservesExistingDOI(t *testing.T) {
	withMetadataMode(t, config.EnrichInlineApply)

	r, _ := setupRunner(t, map[types.ProviderSource]provider.Adaptor{
		types.SourcePubmed: fake.New("pubmed", nil),
	})
	resolver := &stubResolver{doi: "10.1/wrong", confidence: 0.99}
	r.MetadataResolver = resolver

	candidates := []types.UnifiedPaper{{Title: "Has A DOI Already", DOI: "10.1/already-known"}}
	out, err := r.enrichMetadata(context.Background(), candidates)
	require.NoError(t, err)
	require.Equal(t, 0, resolver.calls)
	require.Equal(t, "10.1/already-known", out[0].DOI)
}
