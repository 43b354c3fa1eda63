// Package config loads pipeline configuration from defaults, an optional
// config.yaml, and environment variables via a package-level viper
// singleton, with range/enum validation and a stable snapshot for
// hashing into a pipeline version.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// v is the package-level viper singleton: a single configured instance
// rather than threading a Config struct through every call site.
var v *viper.Viper

// QueryPipelineMode selects the query normalizer used by INGEST_PROVIDER.
type QueryPipelineMode string

const (
	ModeV1     QueryPipelineMode = "v1"
	ModeV2     QueryPipelineMode = "v2"
	ModeShadow QueryPipelineMode = "shadow"
)

// ExtractionEngine selects how DETERMINISTIC_EXTRACT/LLM_AUGMENT combine.
type ExtractionEngine string

const (
	EngineLLM     ExtractionEngine = "llm"
	EngineScripted ExtractionEngine = "scripted"
	EngineHybrid  ExtractionEngine = "hybrid"
)

// MetadataEnrichmentMode selects how INGEST_PROVIDER applies DOI/title
// fingerprint resolution decisions.
type MetadataEnrichmentMode string

const (
	EnrichOfflineShadow MetadataEnrichmentMode = "offline_shadow"
	EnrichOfflineApply  MetadataEnrichmentMode = "offline_apply"
	EnrichInlineApply   MetadataEnrichmentMode = "inline_apply"
)

// Initialize sets defaults and binds the recognized environment variables.
// Safe to call more than once (e.g. in tests); each call resets the singleton.
func Initialize() error {
	v = viper.New()
	v.SetEnvPrefix("") // env vars below are bound by exact name, no prefix
	v.AutomaticEnv()

	v.SetDefault("query_pipeline_mode", string(ModeV1))
	v.SetDefault("extraction_engine", string(EngineHybrid))
	v.SetDefault("extraction_max_candidates", 45)
	v.SetDefault("pdf_parse_timeout_ms", 12000)
	v.SetDefault("metadata_enrichment_mode", string(EnrichOfflineShadow))
	v.SetDefault("metadata_enrichment_inline_percent", 0)
	v.SetDefault("metadata_enrichment_max_latency_ms", 5000)
	v.SetDefault("metadata_enrichment_retry_max", 4)
	v.SetDefault("worker_drain_token", "")
	v.SetDefault("provider_profile", []string{"openalex", "semantic_scholar", "arxiv", "pubmed"})
	v.SetDefault("anthropic_model", "claude-3-5-haiku-20241022")
	v.SetDefault("openalex_mailto", "")
	v.SetDefault("semantic_scholar_api_key", "")
	v.SetDefault("pubmed_api_key", "")
	v.SetDefault("otel_exporter", "stdout")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("sqlite_path", "corpuspipe.db")
	v.SetDefault("pdf_extract_endpoint", "")
	v.SetDefault("config_file", "")

	bindings := map[string]string{
		"config_file": "CORPUSPIPE_CONFIG_FILE",
		"query_pipeline_mode":                "QUERY_PIPELINE_MODE",
		"extraction_engine":                  "EXTRACTION_ENGINE",
		"extraction_max_candidates":          "EXTRACTION_MAX_CANDIDATES",
		"pdf_parse_timeout_ms":                "PDF_PARSE_TIMEOUT_MS",
		"metadata_enrichment_mode":            "METADATA_ENRICHMENT_MODE",
		"metadata_enrichment_inline_percent":  "METADATA_ENRICHMENT_INLINE_PERCENT",
		"metadata_enrichment_max_latency_ms":  "METADATA_ENRICHMENT_MAX_LATENCY_MS",
		"metadata_enrichment_retry_max":       "METADATA_ENRICHMENT_RETRY_MAX",
		"worker_drain_token":                  "CORPUSPIPE_WORKER_TOKEN",
		"anthropic_api_key":                   "ANTHROPIC_API_KEY",
		"anthropic_model":                     "ANTHROPIC_MODEL",
		"openalex_mailto":                     "OPENALEX_MAILTO",
		"semantic_scholar_api_key":            "SEMANTIC_SCHOLAR_API_KEY",
		"pubmed_api_key":                      "PUBMED_API_KEY",
		"otel_exporter":                       "OTEL_EXPORTER",
		"otel_exporter_otlp_endpoint":          "OTEL_EXPORTER_OTLP_ENDPOINT",
		"http_addr":                            "CORPUSPIPE_HTTP_ADDR",
		"sqlite_path":                          "CORPUSPIPE_SQLITE_PATH",
		"pdf_extract_endpoint":                 "PDF_EXTRACT_ENDPOINT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if v.GetString("config_file") != "" {
		v.SetConfigFile(v.GetString("config_file"))
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read config file: %w", err)
		}
	}

	return validate()
}

func validate() error {
	mode := QueryPipelineMode(v.GetString("query_pipeline_mode"))
	switch mode {
	case ModeV1, ModeV2, ModeShadow:
	default:
		return fmt.Errorf("config: invalid QUERY_PIPELINE_MODE %q", mode)
	}

	engine := ExtractionEngine(v.GetString("extraction_engine"))
	switch engine {
	case EngineLLM, EngineScripted, EngineHybrid:
	default:
		return fmt.Errorf("config: invalid EXTRACTION_ENGINE %q", engine)
	}

	enrich := MetadataEnrichmentMode(v.GetString("metadata_enrichment_mode"))
	switch enrich {
	case EnrichOfflineShadow, EnrichOfflineApply, EnrichInlineApply:
	default:
		return fmt.Errorf("config: invalid METADATA_ENRICHMENT_MODE %q", enrich)
	}

	if n := v.GetInt("extraction_max_candidates"); n < 5 || n > 60 {
		return fmt.Errorf("config: EXTRACTION_MAX_CANDIDATES %d out of range [5,60]", n)
	}
	if n := v.GetInt("pdf_parse_timeout_ms"); n < 1000 || n > 60000 {
		return fmt.Errorf("config: PDF_PARSE_TIMEOUT_MS %d out of range [1000,60000]", n)
	}
	if n := v.GetInt("metadata_enrichment_inline_percent"); n < 0 || n > 100 {
		return fmt.Errorf("config: METADATA_ENRICHMENT_INLINE_PERCENT %d out of range [0,100]", n)
	}
	if n := v.GetInt("metadata_enrichment_max_latency_ms"); n < 200 {
		return fmt.Errorf("config: METADATA_ENRICHMENT_MAX_LATENCY_MS %d below minimum 200", n)
	}
	if n := v.GetInt("metadata_enrichment_retry_max"); n < 1 || n > 8 {
		return fmt.Errorf("config: METADATA_ENRICHMENT_RETRY_MAX %d out of range [1,8]", n)
	}
	return nil
}

// Accessors are thin package-level wrappers over the viper singleton.

func GetString(key string) string { return v.GetString(key) }
func GetInt(key string) int       { return v.GetInt(key) }
func GetBool(key string) bool     { return v.GetBool(key) }

func QueryPipelineModeValue() QueryPipelineMode {
	return QueryPipelineMode(v.GetString("query_pipeline_mode"))
}

func ExtractionEngineValue() ExtractionEngine {
	return ExtractionEngine(v.GetString("extraction_engine"))
}

func MetadataEnrichmentModeValue() MetadataEnrichmentMode {
	return MetadataEnrichmentMode(v.GetString("metadata_enrichment_mode"))
}

func ExtractionMaxCandidates() int       { return v.GetInt("extraction_max_candidates") }
func PDFParseTimeoutMS() int             { return v.GetInt("pdf_parse_timeout_ms") }
func MetadataEnrichmentInlinePercent() int { return v.GetInt("metadata_enrichment_inline_percent") }
func MetadataEnrichmentMaxLatencyMS() int  { return v.GetInt("metadata_enrichment_max_latency_ms") }
func MetadataEnrichmentRetryMax() int      { return v.GetInt("metadata_enrichment_retry_max") }
func WorkerDrainToken() string             { return v.GetString("worker_drain_token") }
func AnthropicAPIKey() string              { return v.GetString("anthropic_api_key") }
func AnthropicModel() string               { return v.GetString("anthropic_model") }
func OpenAlexMailTo() string                { return v.GetString("openalex_mailto") }
func SemanticScholarAPIKey() string         { return v.GetString("semantic_scholar_api_key") }
func PubmedAPIKey() string                  { return v.GetString("pubmed_api_key") }
func OTelExporter() string                  { return v.GetString("otel_exporter") }
func OTelExporterOTLPEndpoint() string      { return v.GetString("otel_exporter_otlp_endpoint") }
func HTTPAddr() string                      { return v.GetString("http_addr") }
func SQLitePath() string                    { return v.GetString("sqlite_path") }
func PDFExtractEndpoint() string            { return v.GetString("pdf_extract_endpoint") }

// LLMAugmentAllowed reports whether model-based augmentation may run at
// all: the configured engine must request it and an API key must be set.
func LLMAugmentAllowed() bool {
	engine := ExtractionEngineValue()
	return (engine == EngineLLM || engine == EngineHybrid) && AnthropicAPIKey() != ""
}

// ProviderProfile returns the configured default provider profile.
func ProviderProfile() []string {
	return v.GetStringSlice("provider_profile")
}

// Snapshot returns a stable, sorted key=value representation of the
// currently active config, used to compute a PipelineVersion's config_hash.
func Snapshot() map[string]string {
	keys := []string{
		"query_pipeline_mode", "extraction_engine", "extraction_max_candidates",
		"pdf_parse_timeout_ms", "metadata_enrichment_mode",
		"metadata_enrichment_inline_percent", "metadata_enrichment_max_latency_ms",
		"metadata_enrichment_retry_max",
	}
	snap := make(map[string]string, len(keys))
	for _, k := range keys {
		snap[k] = fmt.Sprintf("%v", v.Get(k))
	}
	return snap
}

// init provides a usable singleton even if callers skip Initialize (e.g.
// a unit test that only needs defaults).
func init() {
	_ = Initialize()
}
