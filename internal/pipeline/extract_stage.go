package pipeline

import (
	"context"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/extractor"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// extractOutput is DETERMINISTIC_EXTRACT's emitted payload.
type extractOutput struct {
	Results              []types.StudyResult   `json:"results"`
	Stats                types.ExtractionStats `json:"stats"`
	ExtractionInputTotal int                   `json:"extraction_input_total"`
}

// runDeterministicExtract runs the rule-based extractor over the
// quality-kept candidates, bounded to the configured candidate ceiling.
func (r *Runner) runDeterministicExtract(ctx context.Context, kept []types.CanonicalPaper) (extractOutput, error) {
	limit := config.ExtractionMaxCandidates()
	extractionCache := r.extractionCache()
	results, stats, err := extractor.Extract(ctx, kept, extractor.Options{
		Limit:           limit,
		PDFClient:       r.PDFClient,
		PDFTimeoutMS:    config.PDFParseTimeoutMS(),
		ExtractionCache: extractionCache,
	})
	if err != nil {
		return extractOutput{}, externalErr(types.StageDeterministicExtract, fmt.Errorf("extract: %w", err))
	}
	inputTotal := len(kept)
	if inputTotal > limit {
		inputTotal = limit
	}
	return extractOutput{Results: results, Stats: stats, ExtractionInputTotal: inputTotal}, nil
}
