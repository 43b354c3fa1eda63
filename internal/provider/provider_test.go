package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/types"
)

// scriptedAdaptor returns the next result in results on each call, in order,
// looping the last entry if called more times than scripted.
type scriptedAdaptor struct {
	name    string
	results []func() ([]types.UnifiedPaper, error)
	calls   int64
}

func (a *scriptedAdaptor) Name() string { return a.name }

func (a *scriptedAdaptor) Search(ctx context.Context, query types.NormalizedQuery, limit int) ([]types.UnifiedPaper, error) {
	i := atomic.AddInt64(&a.calls, 1) - 1
	if int(i) >= len(a.results) {
		i = int64(len(a.results) - 1)
	}
	return a.results[i]()
}

func okResult(papers []types.UnifiedPaper) func() ([]types.UnifiedPaper, error) {
	return func() ([]types.UnifiedPaper, error) { return papers, nil }
}

func failResult(err error) func() ([]types.UnifiedPaper, error) {
	return func() ([]types.UnifiedPaper, error) { return nil, err }
}

func fastLimits() Limits {
	l := DefaultLimits
	l.RequestsPerSecond = 1000
	l.Burst = 1000
	l.MaxRetries = 3
	return l
}

func TestSearchSucceedsOnFirstAttempt(t *testing.T) {
	want := []types.UnifiedPaper{{ID: "p1", Title: "A paper"}}
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){okResult(want)}}
	r := NewRuntime(a, fastLimits())

	got, err := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.EqualValues(t, 1, atomic.LoadInt64(&a.calls))
}

func TestSearchRetriesTransientFailureThenSucceeds(t *testing.T) {
	want := []types.UnifiedPaper{{ID: "p1"}}
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){
		failResult(NewHTTPStatusError(503, 0, errors.New("service unavailable"))),
		okResult(want),
	}}
	limits := fastLimits()
	r := NewRuntime(a, limits)

	got, err := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.EqualValues(t, 2, atomic.LoadInt64(&a.calls))
}

func TestSearchDoesNotRetryNonRetryableStatus(t *testing.T) {
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){
		failResult(NewHTTPStatusError(404, 0, errors.New("not found"))),
		okResult([]types.UnifiedPaper{{ID: "p1"}}),
	}}
	r := NewRuntime(a, fastLimits())

	_, err := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.Error(t, err)
	require.EqualValues(t, 1, atomic.LoadInt64(&a.calls))
}

func TestSearchHonorsRetryableErrorDelayOverCurve(t *testing.T) {
	want := []types.UnifiedPaper{{ID: "p1"}}
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){
		failResult(&RetryableError{Err: errors.New("rate limited"), Delay: 30 * time.Millisecond}),
		okResult(want),
	}}
	r := NewRuntime(a, fastLimits())

	start := time.Now()
	got, err := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, want, got)
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestSearchExhaustsRetriesAndReturnsLastError(t *testing.T) {
	failing := NewHTTPStatusError(500, 0, errors.New("provider down"))
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){
		failResult(failing), failResult(failing), failResult(failing), failResult(failing),
	}}
	limits := fastLimits()
	limits.MaxRetries = 2
	limits.BreakerThreshold = 100 // keep the breaker out of this test
	r := NewRuntime(a, limits)

	_, err := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.Error(t, err)
	require.ErrorIs(t, err, failing)
	require.EqualValues(t, 3, atomic.LoadInt64(&a.calls)) // initial attempt + 2 retries
}

func TestSearchCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failing := NewHTTPStatusError(500, 0, errors.New("provider down"))
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){
		failResult(failing), failResult(failing), failResult(failing),
		failResult(failing), failResult(failing), failResult(failing),
	}}
	limits := fastLimits()
	limits.MaxRetries = 0
	limits.BreakerThreshold = 2
	limits.BreakerTimeout = time.Minute
	r := NewRuntime(a, limits)

	_, err1 := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.Error(t, err1)
	_, err2 := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.Error(t, err2)

	// the breaker should now be open; a third call is rejected without
	// ever reaching the adaptor.
	callsBefore := atomic.LoadInt64(&a.calls)
	_, err3 := r.Search(context.Background(), types.NormalizedQuery{}, 10)
	require.ErrorIs(t, err3, ErrProviderUnavailable)
	require.Equal(t, callsBefore, atomic.LoadInt64(&a.calls))
}

func TestSearchRespectsContextCancellation(t *testing.T) {
	a := &scriptedAdaptor{name: "fake", results: []func() ([]types.UnifiedPaper, error){
		failResult(&RetryableError{Err: errors.New("slow down"), Delay: time.Hour}),
	}}
	r := NewRuntime(a, fastLimits())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Search(ctx, types.NormalizedQuery{}, 10)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d, ok := ParseRetryAfterSeconds("5")
	require.True(t, ok)
	require.Equal(t, 5*time.Second, d)

	_, ok = ParseRetryAfterSeconds("")
	require.False(t, ok)

	d, ok = ParseRetryAfterSeconds("Wed, 21 Oct 2286 07:28:00 GMT")
	require.True(t, ok)
	require.Greater(t, d, time.Duration(0))

	d, ok = ParseRetryAfterSeconds("Wed, 21 Oct 2015 07:28:00 GMT")
	require.True(t, ok)
	require.Equal(t, time.Duration(0), d)

	_, ok = ParseRetryAfterSeconds("not a date")
	require.False(t, ok)

	_, ok = ParseRetryAfterSeconds("-1")
	require.False(t, ok)
}
