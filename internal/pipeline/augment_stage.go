package pipeline

import (
	"context"

	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/llmaugment"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// augmentOutput is LLM_AUGMENT's emitted payload.
type augmentOutput struct {
	Results []types.StudyResult `json:"results"`
	Stats   types.ExtractionStats `json:"stats"`
}

// runLLMAugment hydrates nullable gaps left by DETERMINISTIC_EXTRACT from
// a configured model client, when model augmentation is allowed; when it
// isn't (or no client is wired), llmaugment.Run still recomputes tiers and
// synthesizes a fallback result set so the stage is always safe to run.
func (r *Runner) runLLMAugment(ctx context.Context, deterministic []types.StudyResult, kept []types.CanonicalPaper) (augmentOutput, error) {
	var client llmaugment.Augmenter
	if config.LLMAugmentAllowed() {
		client = r.LLMClient
	}

	result, err := llmaugment.Run(ctx, deterministic, llmaugment.Options{
		Client:          client,
		ExtractionCache: r.extractionCache(),
		Model:           config.AnthropicModel(),
		KeptCanonical:   kept,
	})
	if err != nil {
		return augmentOutput{}, internalErr(types.StageLLMAugment, err)
	}

	stats := types.ExtractionStats{
		StrictCount:        result.StrictCount,
		PartialCount:       result.PartialCount,
		DroppedCount:       result.DroppedCount,
		FallbackReasons:    result.FallbackReasons,
		Engine:             string(config.ExtractionEngineValue()),
		LLMFallbackApplied: result.LLMFallbackApplied,
	}
	return augmentOutput{Results: result.Studies, Stats: stats}, nil
}
