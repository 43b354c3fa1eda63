package telemetry

import (
	"context"
	"log"
	"sort"
	"sync"
)

// EventKind is one of the four stage-lifecycle events a stage invocation emits.
type EventKind string

const (
	EventStart      EventKind = "START"
	EventSuccess    EventKind = "SUCCESS"
	EventFailure    EventKind = "FAILURE"
	EventIdempotent EventKind = "IDEMPOTENT"
)

// StageEvent is one emitted lifecycle event for a stage invocation.
type StageEvent struct {
	Kind        EventKind
	TraceID     string // = run_id = job_id
	ReportID    string
	Stage       string
	InputHash   string
	OutputHash  string
	DurationMS  int64
	ErrorCode   string
	ErrorCategory string
}

// EventHandler receives dispatched stage events. Handlers run in-process
// only — stage events never need to cross a process boundary here.
type EventHandler interface {
	ID() string
	Priority() int
	Handle(ctx context.Context, event StageEvent)
}

// EventBus dispatches stage events to registered handlers in priority order.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

// NewEventBus creates an empty event bus. A process-wide default instance
// is also available via DefaultEvents.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// DefaultEvents is the process-wide stage-event bus used by internal/pipeline
// unless a caller supplies its own (e.g. in tests).
var DefaultEvents = NewEventBus()

// Register adds a handler. Registration order does not matter — handlers
// are sorted by priority on every Dispatch.
func (b *EventBus) Register(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends event to every registered handler, lowest priority first,
// and also records it as an otel metric sample and a log line. Handlers run
// synchronously on the caller's goroutine, so a slow handler delays the
// stage and a handler panic is not recovered here; handlers are expected
// to be fast (metric/log sinks), and anything I/O-bound should buffer
// internally.
func (b *EventBus) Dispatch(ctx context.Context, event StageEvent) {
	RecordStageEvent(ctx, event.Stage, string(event.Kind))
	log.Printf("stage=%s event=%s report=%s trace=%s input_hash=%s output_hash=%s duration_ms=%d",
		event.Stage, event.Kind, event.ReportID, event.TraceID, event.InputHash, event.OutputHash, event.DurationMS)

	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Priority() < handlers[j].Priority() })
	for _, h := range handlers {
		h.Handle(ctx, event)
	}
}
