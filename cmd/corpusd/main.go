// Command corpusd runs the research pipeline as a standing daemon: the
// HTTP API described in the external-interfaces contract, and a
// background worker pool that drains every fixed stage's job queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/extractor"
	"github.com/corpuspipe/corpuspipe/internal/httpapi"
	"github.com/corpuspipe/corpuspipe/internal/llmaugment"
	"github.com/corpuspipe/corpuspipe/internal/metadata"
	"github.com/corpuspipe/corpuspipe/internal/pipeline"
	"github.com/corpuspipe/corpuspipe/internal/provider"
	"github.com/corpuspipe/corpuspipe/internal/provider/arxiv"
	"github.com/corpuspipe/corpuspipe/internal/provider/openalex"
	"github.com/corpuspipe/corpuspipe/internal/provider/pubmed"
	"github.com/corpuspipe/corpuspipe/internal/provider/semanticscholar"
	"github.com/corpuspipe/corpuspipe/internal/queue"
	"github.com/corpuspipe/corpuspipe/internal/stageoutput"
	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite"
	"github.com/corpuspipe/corpuspipe/internal/telemetry"
	"github.com/corpuspipe/corpuspipe/internal/types"
	"github.com/corpuspipe/corpuspipe/internal/worker"
)

func main() {
	var (
		httpAddr    = flag.String("http-addr", "", "HTTP listen address. Falls back to CORPUSPIPE_HTTP_ADDR, default :8080")
		dbPath      = flag.String("db", "", "SQLite database path. Falls back to CORPUSPIPE_SQLITE_PATH, default corpuspipe.db")
		concurrency = flag.Int("worker-concurrency", worker.DefaultConcurrencyPerStage, "Goroutines per pipeline stage")
		otelMode    = flag.String("otel-exporter", "", "Telemetry exporter: stdout, otlp, or none. Falls back to OTEL_EXPORTER")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[corpusd] ", log.LstdFlags|log.Lmsgprefix)

	if err := config.Initialize(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	config.WatchConfig(log.New(os.Stdout, "[corpusd:config] ", log.LstdFlags|log.Lmsgprefix))

	addr := *httpAddr
	if addr == "" {
		addr = config.HTTPAddr()
	}
	path := *dbPath
	if path == "" {
		path = config.SQLitePath()
	}
	mode := *otelMode
	if mode == "" {
		mode = config.OTelExporter()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.ExporterMode(mode), "corpuspipe", config.OTelExporterOTLPEndpoint())
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := sqlite.New(path)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer store.Close()

	caches := cache.NewSet(store)
	runner := &pipeline.Runner{
		Store:         store,
		Queue:         queue.New(store),
		Outputs:       stageoutput.New(store),
		Caches:        caches,
		Providers:     buildProviders(),
		Canonicalizer: canonicalize.New(caches.CanonicalRecord),
	}
	if endpoint := config.PDFExtractEndpoint(); endpoint != "" {
		runner.PDFClient = extractor.NewHTTPPDFExtractor(endpoint, time.Duration(config.PDFParseTimeoutMS())*time.Millisecond)
	}
	if config.LLMAugmentAllowed() {
		runner.LLMClient = llmaugment.NewClient(config.AnthropicAPIKey(), config.AnthropicModel())
	}
	runner.MetadataResolver = metadata.NewHTTPResolver()

	if _, err := pipeline.ResolveActivePipelineVersion(ctx, store); err != nil {
		logger.Fatalf("resolve pipeline version: %v", err)
	}

	server := httpapi.New(runner, addr, config.WorkerDrainToken(), log.New(os.Stdout, "[corpusd:http] ", log.LstdFlags|log.Lmsgprefix))
	pool := worker.New(runner, worker.Config{
		ConcurrencyPerStage: *concurrency,
		Owner:               "corpusd",
		Logger:              log.New(os.Stdout, "[corpusd:worker] ", log.LstdFlags|log.Lmsgprefix),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return pool.Run(gctx) })

	logger.Printf("corpusd listening on %s (db=%s, workers/stage=%d, otel=%s)", addr, path, *concurrency, mode)

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatalf("corpusd: %v", err)
	}
	logger.Printf("corpusd stopped")
}

// buildProviders wires one real provider.Runtime per source named in
// config.ProviderProfile(), skipping any name it doesn't recognize rather
// than failing startup over a typo'd profile entry.
func buildProviders() map[types.ProviderSource]*provider.Runtime {
	runtimes := make(map[types.ProviderSource]*provider.Runtime)
	for _, name := range config.ProviderProfile() {
		switch types.ProviderSource(name) {
		case types.SourceOpenAlex:
			runtimes[types.SourceOpenAlex] = provider.NewRuntime(openalex.New(config.OpenAlexMailTo()), provider.DefaultLimits)
		case types.SourceSemanticScholar:
			runtimes[types.SourceSemanticScholar] = provider.NewRuntime(semanticscholar.New(config.SemanticScholarAPIKey()), provider.DefaultLimits)
		case types.SourceArxiv:
			runtimes[types.SourceArxiv] = provider.NewRuntime(arxiv.New(), provider.DefaultLimits)
		case types.SourcePubmed:
			runtimes[types.SourcePubmed] = provider.NewRuntime(pubmed.New(config.PubmedAPIKey()), provider.DefaultLimits)
		default:
			fmt.Fprintf(os.Stderr, "corpusd: unknown provider %q in provider_profile, skipping\n", name)
		}
	}
	return runtimes
}
