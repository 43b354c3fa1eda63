// Package llmaugment implements LLM_AUGMENT: optional model-based
// hydration of nullable gaps left by the deterministic extractor, under a
// locked-baseline prompt that may never alter a study's identity fields.
package llmaugment

import (
	"context"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/extractor"
	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const batchSize = 15

// Augmenter is the subset of Client this package depends on, so tests can
// substitute a scripted double.
type Augmenter interface {
	Augment(ctx context.Context, prompt string) (string, error)
}

// Options configures one LLM_AUGMENT run.
type Options struct {
	Client          Augmenter
	ExtractionCache *cache.Cache
	Model           string
	KeptCanonical   []types.CanonicalPaper // for fallback synthesis only
}

// Result is the outcome of one LLM_AUGMENT pass.
type Result struct {
	Studies            []types.StudyResult
	LLMFallbackApplied bool
	FallbackReasons    map[string]int
	StrictCount        int
	PartialCount       int
	DroppedCount       int
}

// Run sends every study with nullable gaps to the model in batches of 15,
// merges results back onto the deterministic baseline, recomputes
// completeness tiers, writes the non-dropped studies to the extraction
// cache when the model path ran, and synthesizes a fallback result set if
// both tiers end up empty. It does not read the extraction cache.
func Run(ctx context.Context, deterministic []types.StudyResult, opts Options) (Result, error) {
	result := Result{FallbackReasons: map[string]int{}}

	if !AnyHasNullableGaps(deterministic) || opts.Client == nil {
		result.Studies = withRecomputedTiers(deterministic)
		result.LLMFallbackApplied = false
		tally(&result)
		return maybeSynthesizeFallback(ctx, result, opts), nil
	}

	merged := make([]types.StudyResult, len(deterministic))
	copy(merged, deterministic)

	toSend := make([]int, 0, len(merged))
	for i, s := range merged {
		if hasNullableGaps(s) {
			toSend = append(toSend, i)
		}
	}

	anyFallback := false
	for start := 0; start < len(toSend); start += batchSize {
		end := start + batchSize
		if end > len(toSend) {
			end = len(toSend)
		}
		indices := toSend[start:end]

		payloads := make([]payloadStudy, len(indices))
		studyIDs := make([]string, len(indices))
		for j, idx := range indices {
			payloads[j] = toPayloadStudy(merged[idx])
			studyIDs[j] = merged[idx].StudyID
		}

		augmented, err := runBatch(ctx, opts.Client, payloads, studyIDs)
		if err != nil {
			anyFallback = true
			result.FallbackReasons[fallbackReasonFor(err)]++
			continue
		}

		for j, idx := range indices {
			merged[idx] = mergeStudy(merged[idx], augmented[j])
		}
	}

	result.Studies = withRecomputedTiers(merged)
	result.LLMFallbackApplied = !anyFallback
	tally(&result)

	if opts.ExtractionCache != nil {
		for _, s := range result.Studies {
			if s.Tier == "dropped" {
				continue
			}
			if err := upsertExtractionCache(ctx, opts.ExtractionCache, s, opts.Model); err != nil {
				return result, err
			}
		}
	}

	return maybeSynthesizeFallback(ctx, result, opts), nil
}

func runBatch(ctx context.Context, client Augmenter, payloads []payloadStudy, studyIDs []string) ([]payloadStudy, error) {
	prompt, err := renderBatch(payloads)
	if err != nil {
		return nil, err
	}
	raw, err := client.Augment(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llmaugment: model call: %w", err)
	}
	return parseAndValidate([]byte(raw), studyIDs)
}

func fallbackReasonFor(err error) string {
	if err == nil {
		return "unknown"
	}
	return "llm_call_failed"
}

func withRecomputedTiers(studies []types.StudyResult) []types.StudyResult {
	out := make([]types.StudyResult, len(studies))
	for i, s := range studies {
		s.Tier = extractor.ClassifyTier(s)
		out[i] = s
	}
	return out
}

func tally(r *Result) {
	r.StrictCount, r.PartialCount, r.DroppedCount = 0, 0, 0
	for _, s := range r.Studies {
		switch s.Tier {
		case "strict":
			r.StrictCount++
		case "partial":
			r.PartialCount++
		default:
			r.DroppedCount++
		}
	}
}

// maybeSynthesizeFallback replaces an empty result set with up to 50
// fallback partial studies built from canonical records, when quality-kept
// papers exist but neither tier produced anything usable.
func maybeSynthesizeFallback(ctx context.Context, r Result, opts Options) Result {
	if (r.StrictCount + r.PartialCount) > 0 || len(opts.KeptCanonical) == 0 {
		return r
	}
	r.Studies = synthesizeFallback(opts.KeptCanonical)
	r.DroppedCount = 0
	r.PartialCount = len(r.Studies)
	return r
}

func upsertExtractionCache(ctx context.Context, c *cache.Cache, s types.StudyResult, model string) error {
	key := extractor.CacheKey(s.StudyID, extractor.ExtractorVersion, PromptHash, model)
	payload, err := idgen.CanonicalJSON(s)
	if err != nil {
		return fmt.Errorf("llmaugment: canonicalize %s: %w", s.StudyID, err)
	}
	if err := c.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("llmaugment: cache put %s: %w", s.StudyID, err)
	}
	return nil
}
