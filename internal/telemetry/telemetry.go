// Package telemetry centralizes the OpenTelemetry tracer/meter accessors
// and the pipeline's named metric instruments: a package-level tracer/meter
// plus a sync.Once-initialized instrument bundle shared by every component.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/corpuspipe/corpuspipe"

// Tracer returns the package-scoped tracer for a component, e.g.
// telemetry.Tracer("pipeline") -> "github.com/corpuspipe/corpuspipe/pipeline".
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationName + "/" + component)
}

// Meter returns the package-scoped meter for a component.
func Meter(component string) metric.Meter {
	return otel.Meter(instrumentationName + "/" + component)
}

// StartSpan starts a span under the given component tracer and returns the
// derived context and span; callers defer EndSpan(span, &err).
func StartSpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer(component).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// EndSpan records err (if any) on the span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var (
	instrumentsOnce sync.Once
	instruments     struct {
		queueDepth             metric.Int64Gauge
		queueOldestAgeSeconds  metric.Float64Gauge
		providerLatencyMS      metric.Float64Histogram
		providerSuccessRate    metric.Float64Gauge
		cacheHitRate           metric.Float64Gauge
		extractionFallbackRate metric.Float64Gauge
		runSuccessRate         metric.Float64Gauge
		costPerReport          metric.Float64Gauge
		stageEvents            metric.Int64Counter
	}
)

func initInstruments() {
	m := Meter("metrics")
	instruments.queueDepth, _ = m.Int64Gauge("corpuspipe.queue.depth",
		metric.WithDescription("number of non-terminal jobs, global or per-stage"))
	instruments.queueOldestAgeSeconds, _ = m.Float64Gauge("corpuspipe.queue.oldest_age_seconds",
		metric.WithDescription("age of the oldest queued job in seconds"))
	instruments.providerLatencyMS, _ = m.Float64Histogram("corpuspipe.provider.latency_ms",
		metric.WithDescription("provider call latency"), metric.WithUnit("ms"))
	instruments.providerSuccessRate, _ = m.Float64Gauge("corpuspipe.provider.success_rate")
	instruments.cacheHitRate, _ = m.Float64Gauge("corpuspipe.cache.hit_rate")
	instruments.extractionFallbackRate, _ = m.Float64Gauge("corpuspipe.extraction.fallback_rate")
	instruments.runSuccessRate, _ = m.Float64Gauge("corpuspipe.run.success_rate")
	instruments.costPerReport, _ = m.Float64Gauge("corpuspipe.report.cost")
	instruments.stageEvents, _ = m.Int64Counter("corpuspipe.stage.events")
}

// instrumentsReady lazily initializes the shared instrument bundle. Safe to
// call from any goroutine; idempotent.
func instrumentsReady() { instrumentsOnce.Do(initInstruments) }

// RecordQueueDepth reports the current non-terminal job count for a stage
// ("" for the global total).
func RecordQueueDepth(ctx context.Context, stage string, depth int64) {
	instrumentsReady()
	instruments.queueDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordQueueOldestAge reports the age in seconds of the oldest queued job.
func RecordQueueOldestAge(ctx context.Context, stage string, age time.Duration) {
	instrumentsReady()
	instruments.queueOldestAgeSeconds.Record(ctx, age.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderCall reports one provider call's latency and outcome.
func RecordProviderCall(ctx context.Context, provider string, latency time.Duration, success bool) {
	instrumentsReady()
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	instruments.providerLatencyMS.Record(ctx, float64(latency.Milliseconds()), attrs)
	rate := 0.0
	if success {
		rate = 1.0
	}
	instruments.providerSuccessRate.Record(ctx, rate, attrs)
}

// RecordCacheEvent reports a cache hit (true) or miss (false) for the named cache.
func RecordCacheEvent(ctx context.Context, cache string, hit bool) {
	instrumentsReady()
	rate := 0.0
	if hit {
		rate = 1.0
	}
	instruments.cacheHitRate.Record(ctx, rate, metric.WithAttributes(attribute.String("cache", cache)))
}

// RecordExtractionFallback reports whether a report's extraction run
// applied the LLM fallback (augmentation failed or was skipped).
func RecordExtractionFallback(ctx context.Context, fellBack bool) {
	instrumentsReady()
	rate := 0.0
	if fellBack {
		rate = 1.0
	}
	instruments.extractionFallbackRate.Record(ctx, rate)
}

// RecordRunOutcome reports whether a report run completed successfully.
func RecordRunOutcome(ctx context.Context, success bool) {
	instrumentsReady()
	rate := 0.0
	if success {
		rate = 1.0
	}
	instruments.runSuccessRate.Record(ctx, rate)
}

// RecordCostPerReport reports an estimated cost (arbitrary unit, e.g. USD)
// attributable to a completed report.
func RecordCostPerReport(ctx context.Context, cost float64) {
	instrumentsReady()
	instruments.costPerReport.Record(ctx, cost)
}

// RecordStageEvent increments the stage-event counter, tagged by stage and
// event kind (START/SUCCESS/FAILURE/IDEMPOTENT).
func RecordStageEvent(ctx context.Context, stage, kind string) {
	instrumentsReady()
	instruments.stageEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("event", kind),
	))
}
