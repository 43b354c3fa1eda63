// Package stageoutput wraps storage.StageOutputStore with the
// content-addressed compute_or_load contract every pipeline stage runs
// through: look up by (report, stage, input hash); if absent, run the
// stage function, hash its result, and persist it — racing callers may
// each compute, but they converge on whichever write wins.
package stageoutput

import (
	"context"
	"fmt"

	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// Store is the compute_or_load facade over storage.StageOutputStore.
type Store struct {
	backend storage.Storage
}

// New constructs a Store over backend.
func New(backend storage.Storage) *Store {
	return &Store{backend: backend}
}

// Result is what ComputeOrLoad returns: the persisted row plus
// a Fresh flag telling the caller whether this call computed it (true) or
// found it already cached (false).
type Result struct {
	Output *types.StageOutput
	Fresh  bool
}

// ComputeFunc produces a stage's output payload for reportID, returning
// the stable-JSON-canonicalized bytes to persist.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// ComputeOrLoad returns the cached output for (reportID, stage, inputHash)
// if one exists, otherwise calls compute, hashes the result, and persists
// it. If another worker wins the race to persist first, the existing row
// is returned instead and Fresh is false — compute's result is discarded,
// never treated as an error.
func (s *Store) ComputeOrLoad(
	ctx context.Context,
	reportID string,
	stage types.Stage,
	inputHash string,
	pipelineVersionID, producerJobID string,
	compute ComputeFunc,
) (Result, error) {
	if existing, err := s.backend.GetStageOutput(ctx, reportID, stage, inputHash); err == nil {
		return Result{Output: existing, Fresh: false}, nil
	} else if !storage.IsNotFound(err) {
		return Result{}, fmt.Errorf("stageoutput: load existing: %w", err)
	}

	payload, err := compute(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("stageoutput: compute %s: %w", stage, err)
	}

	out := &types.StageOutput{
		ID:                idgen.WithPrefix("so", idgen.NewUUID()),
		ReportID:          reportID,
		Stage:             stage,
		InputHash:         inputHash,
		OutputHash:        idgen.HashHex(payload),
		Payload:           payload,
		PipelineVersionID: pipelineVersionID,
		ProducerJobID:     producerJobID,
	}

	stored, inserted, err := s.backend.PutStageOutput(ctx, out)
	if err != nil {
		return Result{}, fmt.Errorf("stageoutput: persist: %w", err)
	}
	return Result{Output: stored, Fresh: inserted}, nil
}

// LoadByID returns a previously computed stage output by its own ID
// (used when resolving a report's stored pipeline graph by pointer
// rather than recomputing its input hash).
func (s *Store) LoadByID(ctx context.Context, id string) (*types.StageOutput, error) {
	return s.backend.GetStageOutputByID(ctx, id)
}

// LoadByInputHash returns the cached output for (reportID, stage,
// inputHash), or storage.ErrNotFound on a miss, without ever computing.
func (s *Store) LoadByInputHash(ctx context.Context, reportID string, stage types.Stage, inputHash string) (*types.StageOutput, error) {
	return s.backend.GetStageOutput(ctx, reportID, stage, inputHash)
}
