package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	require.NoError(t, Initialize())
	require.Equal(t, ModeV1, QueryPipelineModeValue())
	require.Equal(t, EngineHybrid, ExtractionEngineValue())
	require.Equal(t, 45, ExtractionMaxCandidates())
	require.Equal(t, 12000, PDFParseTimeoutMS())
	require.Equal(t, EnrichOfflineShadow, MetadataEnrichmentModeValue())
}

func TestEnvironmentBinding(t *testing.T) {
	t.Setenv("QUERY_PIPELINE_MODE", "shadow")
	t.Setenv("EXTRACTION_MAX_CANDIDATES", "30")
	require.NoError(t, Initialize())
	require.Equal(t, ModeShadow, QueryPipelineModeValue())
	require.Equal(t, 30, ExtractionMaxCandidates())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	t.Setenv("EXTRACTION_MAX_CANDIDATES", "999")
	err := Initialize()
	require.Error(t, err)
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Setenv("QUERY_PIPELINE_MODE", "bogus")
	err := Initialize()
	require.Error(t, err)
}

func TestSnapshotIsStable(t *testing.T) {
	require.NoError(t, Initialize())
	a := Snapshot()
	b := Snapshot()
	require.Equal(t, a, b)
}

func TestLLMAugmentAllowedRequiresAPIKey(t *testing.T) {
	require.NoError(t, Initialize())
	require.False(t, LLMAugmentAllowed())

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	require.NoError(t, Initialize())
	require.True(t, LLMAugmentAllowed())
}

func TestLLMAugmentAllowedRespectsScriptedEngine(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("EXTRACTION_ENGINE", "scripted")
	require.NoError(t, Initialize())
	require.False(t, LLMAugmentAllowed())
}
