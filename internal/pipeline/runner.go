package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
	"github.com/corpuspipe/corpuspipe/internal/extractor"
	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/llmaugment"
	"github.com/corpuspipe/corpuspipe/internal/metadata"
	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/queue"
	"github.com/corpuspipe/corpuspipe/internal/stageoutput"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/telemetry"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// Runner wires every dependency one stage invocation needs: the queue it
// claims jobs from and enqueues successors onto, the content-addressed
// stage output store, the named cache set, per-provider runtimes, the
// canonicalizer, and the optional PDF/model clients the extraction stages
// use.
type Runner struct {
	Store         storage.Storage
	Queue         *queue.Queue
	Outputs       *stageoutput.Store
	Caches        *cache.Set
	Providers     map[types.ProviderSource]*provider.Runtime
	Canonicalizer *canonicalize.Merger
	PDFClient     extractor.PDFExtractor
	LLMClient     llmaugment.Augmenter
	// MetadataResolver performs the live Crossref/OpenAlex DOI lookup
	// enrichMetadata falls back to on a DOI-cache miss; nil disables
	// live resolution, leaving only previously cached decisions in play.
	MetadataResolver metadata.Resolver

	// Now overrides the clock for tests; nil uses time.Now().
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Runner) extractionCache() *cache.Cache {
	if r.Caches == nil {
		return nil
	}
	return r.Caches.Extraction
}

// stageTimeout phases, ms, per the fixed timeout table: VALIDATE 2k,
// PREPARE_QUERY 5k, INGEST 45k, CANONICALIZE 8k, QUALITY 8k,
// DETERMINISTIC 90k, LLM 90k, PERSIST 4k.
const (
	timeoutValidate      = 2 * time.Second
	timeoutPrepareQuery  = 5 * time.Second
	timeoutIngest        = 45 * time.Second
	timeoutCanonicalize  = 8 * time.Second
	timeoutQuality       = 8 * time.Second
	timeoutDeterministic = 90 * time.Second
	timeoutLLM           = 90 * time.Second
	timeoutPersist       = 4 * time.Second
)

// stageTimeout maps each of the seven queued stages onto the phase
// budget(s) it spans. INGEST_PROVIDER covers VALIDATE+PREPARE_QUERY+INGEST
// (mark-processing, query prep, and provider fan-out all happen in one
// job); NORMALIZE is hydration-only and reuses the CANONICALIZE budget
// since the timeout table names no phase for it specifically.
var stageTimeout = map[types.Stage]time.Duration{
	types.StageIngestProvider:       timeoutValidate + timeoutPrepareQuery + timeoutIngest,
	types.StageNormalize:            timeoutCanonicalize,
	types.StageDedupe:               timeoutCanonicalize,
	types.StageQualityFilter:        timeoutQuality,
	types.StageDeterministicExtract: timeoutDeterministic,
	types.StageLLMAugment:           timeoutLLM,
	types.StageCompileReport:        timeoutPersist,
}

// StartReport enqueues the first stage (INGEST_PROVIDER) for a newly
// created report, marking it queued for pickup by a worker.
func (r *Runner) StartReport(ctx context.Context, reportID string, req types.SearchRequest) error {
	return r.enqueueStage(ctx, reportID, types.StageIngestProvider, req)
}

func dedupeKey(stage types.Stage, reportID string) string {
	return fmt.Sprintf("%s:%s", stage, reportID)
}

func (r *Runner) enqueueStage(ctx context.Context, reportID string, stage types.Stage, input any) error {
	payload, err := idgen.CanonicalJSON(input)
	if err != nil {
		return internalErr(stage, fmt.Errorf("canonicalize input: %w", err))
	}
	_, err = r.Queue.Enqueue(ctx, queue.EnqueueParams{
		ReportID:  reportID,
		Stage:     stage,
		DedupeKey: dedupeKey(stage, reportID),
		InputHash: idgen.HashHex(payload),
		Payload:   payload,
	})
	if err != nil {
		return internalErr(stage, fmt.Errorf("enqueue %s: %w", stage, err))
	}
	return nil
}

// RunJob executes the single stage job claims, enforcing that stage's
// timeout budget, dispatching the IDEMPOTENT event on a content-addressed
// cache hit, advancing the report to the next stage on success, and
// routing failures to retry or dead-letter depending on their category.
func (r *Runner) RunJob(ctx context.Context, job *types.Job) error {
	timeout, ok := stageTimeout[job.Stage]
	if !ok {
		timeout = timeoutDeterministic // conservative default for an unrecognized stage
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outputHash, fresh, runErr := r.dispatch(stageCtx, job)
	if runErr != nil {
		if stageCtx.Err() == context.DeadlineExceeded {
			runErr = timeoutErr(job.Stage, runErr)
		}
		return r.fail(ctx, job, categorize(job.Stage, runErr))
	}

	if !fresh {
		telemetry.DefaultEvents.Dispatch(ctx, telemetry.StageEvent{
			Kind: telemetry.EventIdempotent, TraceID: job.ID, ReportID: job.ReportID,
			Stage: string(job.Stage), InputHash: job.InputHash, OutputHash: outputHash,
		})
	}

	if err := r.Queue.Complete(ctx, job, outputHash); err != nil {
		return err
	}

	if next := job.Stage.Next(); next != "" {
		nextInput, err := r.nextStageInput(stageCtx, job, outputHash)
		if err != nil {
			return err
		}
		if err := r.enqueueStage(ctx, job.ReportID, next, nextInput); err != nil {
			return err
		}
	}
	return nil
}

// fail routes a categorized stage error to the queue's retry-with-backoff
// path for retryable categories, or immediate dead-lettering otherwise,
// then marks the owning report failed once the job itself goes terminal.
func (r *Runner) fail(ctx context.Context, job *types.Job, serr *StageError) error {
	var queueErr error
	if serr.Category.Retryable() {
		queueErr = r.Queue.Fail(ctx, job, serr)
	} else {
		queueErr = r.Queue.FailTerminal(ctx, job, serr)
	}
	if queueErr != nil {
		return queueErr
	}

	updated, getErr := r.Store.GetJob(ctx, job.ID)
	if getErr != nil {
		return nil
	}
	if updated.Status == types.JobDead {
		_ = r.markReportFailed(ctx, job.ReportID, serr.Error())
	}
	return serr
}

// markReportFailed transitions report to failed with the given error
// message, unless it has already reached a terminal state — a completed
// report is terminal and ignores late-arriving failures from sibling jobs.
func (r *Runner) markReportFailed(ctx context.Context, reportID, errMsg string) error {
	rep, err := r.Store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if rep.Status == types.ReportCompleted || rep.Status == types.ReportFailed {
		return nil
	}
	rep.Status = types.ReportFailed
	rep.Error = errMsg
	telemetry.RecordRunOutcome(ctx, false)
	return r.Store.UpdateReport(ctx, rep)
}

// dispatch decodes job.Payload into the stage-specific input, runs it
// through stageoutput.ComputeOrLoad for idempotence, and returns the
// resulting output hash.
func (r *Runner) dispatch(ctx context.Context, job *types.Job) (outputHash string, fresh bool, err error) {
	pv, err := r.activePipelineVersion(ctx, job.ReportID)
	if err != nil {
		return "", false, err
	}

	var compute stageoutput.ComputeFunc
	switch job.Stage {
	case types.StageIngestProvider:
		var req types.SearchRequest
		if err := json.Unmarshal(job.Payload, &req); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			if err := r.markProcessing(ctx, job.ReportID); err != nil {
				return nil, err
			}
			out, err := r.runIngestProvider(ctx, job.ReportID, req)
			if err != nil {
				return nil, err
			}
			return idgen.CanonicalJSON(out)
		}
	case types.StageNormalize:
		var in ingestOutput
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			out, err := r.runNormalize(ctx, in)
			if err != nil {
				return nil, err
			}
			return idgen.CanonicalJSON(out)
		}
	case types.StageDedupe:
		var in normalizeOutput
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			out, err := r.runDedupe(ctx, in)
			if err != nil {
				return nil, err
			}
			return idgen.CanonicalJSON(out)
		}
	case types.StageQualityFilter:
		var in dedupeOutput
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			rep, err := r.Store.GetReport(ctx, job.ReportID)
			if err != nil {
				return nil, externalErr(job.Stage, err)
			}
			out, err := r.runQualityFilter(ctx, in, rep.Request)
			if err != nil {
				return nil, err
			}
			return idgen.CanonicalJSON(out)
		}
	case types.StageDeterministicExtract:
		var in qualityOutput
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			out, err := r.runDeterministicExtract(ctx, in.Kept)
			if err != nil {
				return nil, err
			}
			return idgen.CanonicalJSON(extractAndQuality{Extract: out, Quality: in})
		}
	case types.StageLLMAugment:
		var in extractAndQuality
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			out, err := r.runLLMAugment(ctx, in.Extract.Results, in.Quality.Kept)
			if err != nil {
				return nil, err
			}
			return idgen.CanonicalJSON(augmentAndQuality{
				Augment:              out,
				Quality:              in.Quality,
				ExtractionInputTotal: in.Extract.ExtractionInputTotal,
			})
		}
	case types.StageCompileReport:
		var in augmentAndQuality
		if err := json.Unmarshal(job.Payload, &in); err != nil {
			return "", false, validationErr(job.Stage, err)
		}
		compute = func(ctx context.Context) ([]byte, error) {
			return r.runCompileReport(ctx, job, in)
		}
	default:
		return "", false, internalErr(job.Stage, fmt.Errorf("unknown stage %s", job.Stage))
	}

	result, err := r.Outputs.ComputeOrLoad(ctx, job.ReportID, job.Stage, job.InputHash, pv.ID, job.ID, compute)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return "", false, se
		}
		return "", false, internalErr(job.Stage, err)
	}
	return result.Output.OutputHash, result.Fresh, nil
}

// extractAndQuality and augmentAndQuality thread the quality-kept
// canonical papers forward through DETERMINISTIC_EXTRACT and LLM_AUGMENT,
// since COMPILE_REPORT needs both the final studies and the kept papers
// (for canonical_papers and provider_source_counts) without re-deriving
// them from scratch.
type extractAndQuality struct {
	Extract extractOutput `json:"extract"`
	Quality qualityOutput `json:"quality"`
}

type augmentAndQuality struct {
	Augment              augmentOutput `json:"augment"`
	Quality              qualityOutput `json:"quality"`
	ExtractionInputTotal int           `json:"extraction_input_total"`
}

// nextStageInput decodes this job's freshly computed output (by its
// content-addressed hash) into the input shape the next stage expects.
// Since ComputeOrLoad may have returned a pre-existing row on an
// idempotent hit, it loads the canonical stored bytes rather than trusting
// anything kept in memory from a (possibly discarded) compute call.
func (r *Runner) nextStageInput(ctx context.Context, job *types.Job, outputHash string) (any, error) {
	stored, err := r.Outputs.LoadByInputHash(ctx, job.ReportID, job.Stage, job.InputHash)
	if err != nil {
		return nil, internalErr(job.Stage, fmt.Errorf("load own output: %w", err))
	}

	switch job.Stage {
	case types.StageIngestProvider:
		var out ingestOutput
		return out, json.Unmarshal(stored.Payload, &out)
	case types.StageNormalize:
		var out normalizeOutput
		return out, json.Unmarshal(stored.Payload, &out)
	case types.StageDedupe:
		var out dedupeOutput
		return out, json.Unmarshal(stored.Payload, &out)
	case types.StageQualityFilter:
		var out qualityOutput
		return out, json.Unmarshal(stored.Payload, &out)
	case types.StageDeterministicExtract:
		var out extractAndQuality
		return out, json.Unmarshal(stored.Payload, &out)
	case types.StageLLMAugment:
		var out augmentAndQuality
		return out, json.Unmarshal(stored.Payload, &out)
	default:
		return nil, internalErr(job.Stage, fmt.Errorf("stage %s has no successor", job.Stage))
	}
}

func (r *Runner) markProcessing(ctx context.Context, reportID string) error {
	rep, err := r.Store.GetReport(ctx, reportID)
	if err != nil {
		return externalErr(types.StageIngestProvider, err)
	}
	if rep.Status == types.ReportCompleted || rep.Status == types.ReportFailed {
		return fmt.Errorf("report %s already terminal", reportID)
	}
	rep.Status = types.ReportProcessing
	return r.Store.UpdateReport(ctx, rep)
}

func (r *Runner) activePipelineVersion(ctx context.Context, reportID string) (*types.PipelineVersion, error) {
	rep, err := r.Store.GetReport(ctx, reportID)
	if err != nil {
		return nil, internalErr("", fmt.Errorf("load report %s: %w", reportID, err))
	}
	pv, err := r.Store.GetPipelineVersion(ctx, rep.PipelineVersionID)
	if err != nil {
		return nil, internalErr("", fmt.Errorf("load pipeline version %s: %w", rep.PipelineVersionID, err))
	}
	return pv, nil
}
