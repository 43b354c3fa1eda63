// Package pipeline orchestrates the seven fixed stages
// (INGEST_PROVIDER → NORMALIZE → DEDUPE → QUALITY_FILTER →
// DETERMINISTIC_EXTRACT → LLM_AUGMENT → COMPILE_REPORT) a report runs
// through, wiring the queue, the content-addressed stage output store, the
// named caches, the provider runtimes, and the canonicalize/quality/
// extractor/llmaugment packages behind one per-stage dispatch.
package pipeline

import (
	"errors"
	"fmt"
	"net"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// Category is one of the five error categories a stage can raise.
type Category string

const (
	CategoryValidation Category = "VALIDATION"
	CategoryTimeout    Category = "TIMEOUT"
	CategoryTransient  Category = "TRANSIENT"
	CategoryExternal   Category = "EXTERNAL"
	CategoryInternal   Category = "INTERNAL"
)

// Retryable reports whether the job runner should retry a job that failed
// with this category rather than dead-lettering it immediately.
func (c Category) Retryable() bool {
	switch c {
	case CategoryTimeout, CategoryTransient, CategoryExternal:
		return true
	default:
		return false
	}
}

// StageError is a categorized failure raised by a stage function. The job
// runner reads Category to decide between queue.Fail (retry with backoff)
// and queue.FailTerminal (dead-letter immediately).
type StageError struct {
	Category Category
	Stage    types.Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Category, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func newStageError(cat Category, stage types.Stage, err error) *StageError {
	if err == nil {
		return nil
	}
	return &StageError{Category: cat, Stage: stage, Err: err}
}

func validationErr(stage types.Stage, err error) error { return newStageError(CategoryValidation, stage, err) }
func timeoutErr(stage types.Stage, err error) error    { return newStageError(CategoryTimeout, stage, err) }
func transientErr(stage types.Stage, err error) error  { return newStageError(CategoryTransient, stage, err) }
func externalErr(stage types.Stage, err error) error   { return newStageError(CategoryExternal, stage, err) }
func internalErr(stage types.Stage, err error) error   { return newStageError(CategoryInternal, stage, err) }

// categorize classifies an arbitrary error from a stage's compute step:
// errors already tagged by a StageError keep their category; network
// timeouts and deadline-exceeded errors become TIMEOUT; everything else a
// stage didn't explicitly categorize is treated as INTERNAL (a programmer
// error or invariant violation, not retried) to keep the default
// conservative rather than silently retrying forever.
func categorize(stage types.Stage, err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newStageError(CategoryTimeout, stage, err)
	}
	return newStageError(CategoryInternal, stage, err)
}
