// Package worker runs the bounded pool of job-draining goroutines that turn
// queued stage jobs into pipeline.Runner.RunJob calls, plus the periodic
// lease-reclaim and queue-metrics sweep that keeps a crashed worker from
// stranding a job and keeps the queue-depth gauges current.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/pipeline"
	"github.com/corpuspipe/corpuspipe/internal/queue"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

const (
	// DefaultConcurrencyPerStage is how many goroutines claim jobs for each
	// of the seven stages concurrently.
	DefaultConcurrencyPerStage = 2
	// DefaultPollInterval is how often an idle worker re-polls its stage
	// for a claimable job.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultReclaimInterval is how often expired leases are swept back to
	// queued.
	DefaultReclaimInterval = 30 * time.Second
	// DefaultMetricsInterval is how often queue-depth and oldest-age
	// gauges are recorded per stage.
	DefaultMetricsInterval = 15 * time.Second
	// defaultSweepTimeout bounds a single reclaim or metrics pass.
	defaultSweepTimeout = 30 * time.Second
)

// Config configures a Pool. Zero values fall back to the Default* constants.
type Config struct {
	ConcurrencyPerStage int
	PollInterval        time.Duration
	ReclaimInterval     time.Duration
	MetricsInterval     time.Duration
	// Owner prefixes the lease owner string each worker claims jobs under
	// (e.g. "corpusd-1"); defaults to "worker".
	Owner string
	// Logger receives per-job and per-sweep failures; defaults to
	// log.Default().
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.ConcurrencyPerStage <= 0 {
		c.ConcurrencyPerStage = DefaultConcurrencyPerStage
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = DefaultReclaimInterval
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.Owner == "" {
		c.Owner = "worker"
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Pool drains every stage's job queue through a Runner and periodically
// sweeps expired leases and queue metrics. It has no state of its own beyond
// configuration: all durable state lives in storage behind runner.Store and
// runner.Queue.
type Pool struct {
	runner *pipeline.Runner
	queue  *queue.Queue
	config Config
}

// New builds a Pool over runner, claiming jobs through runner.Queue.
func New(runner *pipeline.Runner, config Config) *Pool {
	return &Pool{
		runner: runner,
		queue:  runner.Queue,
		config: config.withDefaults(),
	}
}

// Run starts ConcurrencyPerStage claim-and-run goroutines for each of the
// seven fixed stages, plus the reclaim/metrics sweep, and blocks until ctx
// is cancelled. It always returns ctx.Err() once every goroutine has
// exited.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, stage := range types.StageOrder {
		for i := 0; i < p.config.ConcurrencyPerStage; i++ {
			owner := fmt.Sprintf("%s-%s-%d", p.config.Owner, stage, i)
			wg.Add(1)
			go func(stage types.Stage, owner string) {
				defer wg.Done()
				p.drainStage(ctx, stage, owner)
			}(stage, owner)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sweep(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

// drainStage polls stage on PollInterval, claiming and running every job it
// can until the queue for that stage is empty, then waits for the next
// tick.
func (p *Pool) drainStage(ctx context.Context, stage types.Stage, owner string) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx, stage, owner)
		}
	}
}

func (p *Pool) drainOnce(ctx context.Context, stage types.Stage, owner string) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Claim(ctx, stage, owner)
		if err != nil {
			if !storage.IsNotFound(err) {
				p.config.Logger.Printf("worker %s: claim %s: %v", owner, stage, err)
			}
			return
		}
		if err := p.runner.RunJob(ctx, job); err != nil {
			p.config.Logger.Printf("worker %s: job %s (%s) failed: %v", owner, job.ID, stage, err)
		}
	}
}

// sweep runs ReclaimExpired on its own ticker and ReportQueueMetrics on
// another, each tick bounded by its own timeout so a slow storage backend
// can't stall the sweep loop indefinitely.
func (p *Pool) sweep(ctx context.Context) {
	reclaimTicker := time.NewTicker(p.config.ReclaimInterval)
	defer reclaimTicker.Stop()
	metricsTicker := time.NewTicker(p.config.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaimTicker.C:
			p.reclaimOnce(ctx)
		case <-metricsTicker.C:
			p.metricsOnce(ctx)
		}
	}
}

func (p *Pool) reclaimOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, defaultSweepTimeout)
	defer cancel()
	n, err := p.queue.ReclaimExpired(sweepCtx)
	if err != nil {
		p.config.Logger.Printf("reclaim expired leases: %v", err)
		return
	}
	if n > 0 {
		p.config.Logger.Printf("reclaimed %d expired lease(s)", n)
	}
}

func (p *Pool) metricsOnce(ctx context.Context) {
	metricsCtx, cancel := context.WithTimeout(ctx, defaultSweepTimeout)
	defer cancel()
	for _, stage := range types.StageOrder {
		p.queue.ReportQueueMetrics(metricsCtx, stage)
	}
}
