package types

import "time"

// Stage identifies one of the seven fixed pipeline stages.
type Stage string

const (
	StageIngestProvider      Stage = "INGEST_PROVIDER"
	StageNormalize           Stage = "NORMALIZE"
	StageDedupe              Stage = "DEDUPE"
	StageQualityFilter       Stage = "QUALITY_FILTER"
	StageDeterministicExtract Stage = "DETERMINISTIC_EXTRACT"
	StageLLMAugment          Stage = "LLM_AUGMENT"
	StageCompileReport       Stage = "COMPILE_REPORT"
)

// StageOrder is the fixed stage sequence; Next returns "" past the last stage.
var StageOrder = []Stage{
	StageIngestProvider,
	StageNormalize,
	StageDedupe,
	StageQualityFilter,
	StageDeterministicExtract,
	StageLLMAugment,
	StageCompileReport,
}

// Next returns the stage that follows s, or "" if s is the last stage or unknown.
func (s Stage) Next() Stage {
	for i, st := range StageOrder {
		if st == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}

// PipelineVersion is the identity of an analytical configuration: the
// 4-tuple (prompt manifest hash, extractor bundle hash, config hash, seed).
// The same version + the same input-hash chain always yields the same
// output-hash chain, which is what makes a run replayable.
type PipelineVersion struct {
	ID                  string `json:"id"`
	PromptManifestHash  string `json:"prompt_manifest_hash"`
	ExtractorBundleHash string `json:"extractor_bundle_hash"`
	ConfigHash          string `json:"config_hash"`
	Seed                int64  `json:"seed"`

	// ConfigSnapshotTOML is a human-readable rendering of the config
	// snapshot ConfigHash was computed from — the hash itself is taken
	// over canonical JSON, this is for an operator to read back what
	// produced it without re-deriving the snapshot from live config.
	ConfigSnapshotTOML string `json:"config_snapshot_toml,omitempty"`
}

// StageOutput is an immutable, content-addressed payload for one
// (report_id, stage, input_hash). Payload is the stable-JSON-canonicalized
// bytes of whatever the stage produced; callers decode it into the
// stage-specific Go type.
type StageOutput struct {
	ID                string    `json:"id"`
	ReportID          string    `json:"report_id"`
	Stage             Stage     `json:"stage"`
	InputHash         string    `json:"input_hash"`
	OutputHash        string    `json:"output_hash"`
	Payload           []byte    `json:"-"`
	PipelineVersionID string    `json:"pipeline_version_id"`
	ProducerJobID     string    `json:"producer_job_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// JobStatus is the lifecycle state of a queued Job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobLeased    JobStatus = "leased"
	JobCompleted JobStatus = "completed"
	JobDead      JobStatus = "dead"
)

// Job is one unit of scheduled pipeline work.
type Job struct {
	ID            string    `json:"id"`
	ReportID      string    `json:"report_id"`
	Stage         Stage     `json:"stage"`
	DedupeKey     string    `json:"dedupe_key"`
	Payload       []byte    `json:"-"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	LeaseOwner    string    `json:"lease_owner,omitempty"`
	LeaseExpires  time.Time `json:"lease_expires_at,omitempty"`
	NextRunAt     time.Time `json:"next_run_at"`
	LastError     string    `json:"last_error,omitempty"`
	InputHash     string    `json:"input_hash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExtractionRun is a persisted snapshot of one pass of DETERMINISTIC_EXTRACT
// through COMPILE_REPORT for a report — allocated with a monotonically
// increasing run_index per report so manual re-runs (add-study,
// PDF-reextract) can be audited and replayed.
type ExtractionRun struct {
	ID             string    `json:"id"`
	ReportID       string    `json:"report_id"`
	RunIndex       int       `json:"run_index"`
	ParentRunID    string    `json:"parent_run_id,omitempty"`
	Trigger        string    `json:"trigger"`
	Status         string    `json:"status"`
	Engine         string    `json:"engine"`
	ConfigSnapshot []byte    `json:"-"`
	InputHash      string    `json:"input_hash"`
	OutputHash     string    `json:"output_hash"`
	Stats          ExtractionStats `json:"stats"`
	CreatedAt      time.Time `json:"created_at"`
	IsActive       bool      `json:"is_active"`
}

// ExtractionStats records counts and fallback accounting for one extraction run.
type ExtractionStats struct {
	StrictCount        int            `json:"strict_count"`
	PartialCount       int            `json:"partial_count"`
	DroppedCount       int            `json:"dropped_count"`
	FallbackReasons    map[string]int `json:"fallback_reasons,omitempty"`
	Engine             string         `json:"engine"`
	LLMFallbackApplied bool           `json:"llm_fallback_applied"`
	LatencyMS          int64          `json:"latency_ms"`
	UsedPDF            bool           `json:"used_pdf"`
}
