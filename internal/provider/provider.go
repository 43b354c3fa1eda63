// Package provider defines the bibliographic-source adaptor contract and
// the per-provider runtime wrapper (token bucket, circuit breaker, and
// retry/backoff honoring Retry-After) every adaptor call goes through.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/corpuspipe/corpuspipe/internal/telemetry"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// ErrProviderUnavailable is returned when a provider's circuit breaker is
// open and the call was rejected without ever reaching the network.
var ErrProviderUnavailable = errors.New("provider: circuit open")

// RetryableError wraps an adaptor error with an optional server-specified
// retry delay (parsed from a Retry-After header). A nil Delay means the
// runtime's own backoff curve decides the wait.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// HTTPStatusError annotates an adaptor error with the HTTP status code
// that produced it, so Search can distinguish a rate-limit or server
// error worth retrying from a client error (bad query, not found) that
// retrying can never fix. RetryAfter, when non-zero, is the server's own
// requested wait, parsed from its Retry-After header.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *HTTPStatusError) Error() string { return e.Err.Error() }
func (e *HTTPStatusError) Unwrap() error { return e.Err }

// NewHTTPStatusError wraps err with the status code an adaptor's HTTP
// response carried. retryAfter is the parsed Retry-After header value, or
// zero if the response carried none.
func NewHTTPStatusError(statusCode int, retryAfter time.Duration, err error) *HTTPStatusError {
	return &HTTPStatusError{StatusCode: statusCode, RetryAfter: retryAfter, Err: err}
}

// isRetryable reports whether Search should spend another attempt on err:
// a 429 or 5xx HTTPStatusError, a RetryableError, or a network-level
// error (no HTTP response at all). Any other HTTPStatusError — a 4xx the
// server will return identically forever — is terminal.
func isRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// serverRequestedDelay returns the server-specified wait embedded in err,
// if any, overriding Search's own exponential curve for that one wait.
func serverRequestedDelay(err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) && retryable.Delay > 0 {
		return retryable.Delay
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter
	}
	return 0
}

// Adaptor is the contract every bibliographic source implements. Search
// returns raw candidates for a normalized query; adaptors do not
// canonicalize, dedupe, or score — that happens in later stages.
type Adaptor interface {
	// Name identifies the provider for telemetry, caching, and coverage
	// reporting, e.g. "openalex", "semantic_scholar", "arxiv", "pubmed".
	Name() string
	Search(ctx context.Context, query types.NormalizedQuery, limit int) ([]types.UnifiedPaper, error)
}

// Limits configures one provider's runtime guards.
type Limits struct {
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BreakerThreshold  uint32        // consecutive failures before the breaker opens
	BreakerTimeout    time.Duration // how long the breaker stays open before probing again
}

// DefaultLimits is a conservative default shared by adaptors that don't
// need a tighter profile.
var DefaultLimits = Limits{
	RequestsPerSecond: 5,
	Burst:             10,
	MaxRetries:        4,
	BreakerThreshold:  5,
	BreakerTimeout:    30 * time.Second,
}

// Runtime wraps one Adaptor with a token bucket, a circuit breaker, and
// exponential-backoff retry that honors a RetryableError's Delay over its
// own curve when one is present.
type Runtime struct {
	adaptor Adaptor
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	limits  Limits
}

// NewRuntime wraps adaptor with the given limits.
func NewRuntime(adaptor Adaptor, limits Limits) *Runtime {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    adaptor.Name(),
		Timeout: limits.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limits.BreakerThreshold
		},
	})
	return &Runtime{
		adaptor: adaptor,
		limiter: rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.Burst),
		breaker: breaker,
		limits:  limits,
	}
}

// Search runs the adaptor's Search through the token bucket, circuit
// breaker, and retry/backoff wrapper, recording a provider-latency metric
// sample for every underlying attempt. Retries are hand-rolled rather than
// driven by backoff.Retry so a RetryableError's server-specified delay can
// override the exponential curve for that one wait without double-sleeping.
func (r *Runtime) Search(ctx context.Context, query types.NormalizedQuery, limit int) (_ []types.UnifiedPaper, err error) {
	ctx, span := telemetry.StartSpan(ctx, "provider", "provider.search",
		attribute.String("provider.name", r.adaptor.Name()))
	defer func() { telemetry.EndSpan(span, err) }()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 20 * time.Second
	bo.RandomizationFactor = 0.2

	var lastErr error
	var serverDelay time.Duration
	for attempt := 0; attempt <= r.limits.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			if serverDelay > 0 {
				wait = serverDelay
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("provider %s: rate limiter: %w", r.adaptor.Name(), err)
		}

		out, err := r.breaker.Execute(func() (any, error) {
			t0 := time.Now()
			papers, callErr := r.adaptor.Search(ctx, query, limit)
			telemetry.RecordProviderCall(ctx, r.adaptor.Name(), time.Since(t0), callErr == nil)
			return papers, callErr
		})
		if err == nil {
			return out.([]types.UnifiedPaper), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s", ErrProviderUnavailable, r.adaptor.Name())
			return nil, err
		}

		lastErr = fmt.Errorf("provider %s: %w", r.adaptor.Name(), err)
		if !isRetryable(err) {
			return nil, lastErr
		}

		serverDelay = serverRequestedDelay(err)
	}

	return nil, fmt.Errorf("provider %s: exhausted %d retries: %w", r.adaptor.Name(), r.limits.MaxRetries, lastErr)
}

// ParseRetryAfterSeconds parses a Retry-After header value in either form
// RFC 9110 allows: an integer number of seconds, or an HTTP-date. A
// resolved HTTP-date in the past clamps to zero rather than going
// negative.
func ParseRetryAfterSeconds(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
