// Package types defines the core domain records shared across every stage
// of the research pipeline: reports, pipeline versions, stage outputs,
// jobs, candidate and canonical papers, and the extracted study payloads
// they eventually compile into.
package types

import "time"

// ReportStatus is the lifecycle state of a Report.
type ReportStatus string

const (
	ReportQueued     ReportStatus = "queued"
	ReportProcessing ReportStatus = "processing"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// Report is the user-facing entity: a research question and everything the
// pipeline produced while answering it. It is mutable by the pipeline and,
// once completed, immutable to the user except through an explicit re-run
// (add-study, PDF re-extract) that allocates a new ExtractionRun.
type Report struct {
	ID                string       `json:"id"`
	Owner             string       `json:"owner"`
	Question          string       `json:"question"`
	Status            ReportStatus `json:"status"`
	PipelineVersionID string       `json:"pipeline_version_id"`
	ActiveRunID       string       `json:"active_run_id,omitempty"`
	RunCount          int          `json:"run_count"`
	RunVersion        int          `json:"run_version"`

	Request SearchRequest `json:"request"`

	Results         []StudyResult    `json:"results,omitempty"`
	PartialResults  []StudyResult    `json:"partial_results,omitempty"`
	CanonicalPapers []CanonicalPaper `json:"canonical_papers,omitempty"`
	EvidenceTable   []EvidenceRow    `json:"evidence_table,omitempty"`
	Brief           []ClaimSentence  `json:"brief,omitempty"`
	Coverage        Coverage         `json:"coverage"`
	Stats           ReportStats      `json:"stats"`
	ExtractionStats ExtractionStats  `json:"extraction_stats"`
	NormalizedQuery NormalizedQuery  `json:"normalized_query"`

	// ProviderSourceCounts is a denormalized count of canonical papers by
	// originating provider, e.g. {"openalex": 12, "pubmed": 4}.
	ProviderSourceCounts map[string]int `json:"provider_source_counts,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SearchRequest is the sanitized input that seeds INGEST_PROVIDER.
type SearchRequest struct {
	Query            string   `json:"query"`
	Domain           string   `json:"domain,omitempty"`
	FromYear         int      `json:"from_year,omitempty"`
	ToYear           int      `json:"to_year,omitempty"`
	Languages        []string `json:"languages,omitempty"`
	ExcludePreprints bool     `json:"exclude_preprints"`
	MaxCandidates    int      `json:"max_candidates,omitempty"`
	MaxEvidenceRows  int      `json:"max_evidence_rows,omitempty"`
	ResponseMode     string   `json:"response_mode,omitempty"`
	ProviderProfile  []string `json:"provider_profile,omitempty"`
	Seed             int64    `json:"seed,omitempty"`
	Experiment       string   `json:"experiment,omitempty"`
}

// ReportStats summarizes pipeline volumes for COMPILE_REPORT.
type ReportStats struct {
	LatencyMS              int64 `json:"latency_ms"`
	CandidatesTotal        int   `json:"candidates_total"`
	CandidatesFiltered     int   `json:"candidates_filtered"`
	RetrievedTotal         int   `json:"retrieved_total"`
	AbstractEligibleTotal  int   `json:"abstract_eligible_total"`
	QualityKeptTotal       int   `json:"quality_kept_total"`
	ExtractionInputTotal   int   `json:"extraction_input_total"`
	StrictCompleteTotal    int   `json:"strict_complete_total"`
	PartialTotal           int   `json:"partial_total"`
}

// Coverage reports which providers were queried and which failed.
type Coverage struct {
	ProvidersQueried []string `json:"providers_queried"`
	ProvidersFailed  []string `json:"providers_failed"`
	Degraded         bool     `json:"degraded"`
}

// NormalizedQuery is the output of the deterministic (and optional
// model-aided) query normalizer run during INGEST_PROVIDER.
type NormalizedQuery struct {
	OriginalKeywordQuery string   `json:"original_keyword_query"`
	ExpandedKeywordQuery string   `json:"expanded_keyword_query"`
	APIQuery             string   `json:"api_query"`
	Synonyms             []string `json:"synonyms,omitempty"`
	ShadowQuery          string   `json:"shadow_query,omitempty"`
	Mode                 string   `json:"mode"`
}
