package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// metadataResolveTimeout bounds one detached offline resolution; inline
// resolution instead uses whatever remains of the request's own enrichment
// latency budget.
const metadataResolveTimeout = 10 * time.Second

// ingestOutput is INGEST_PROVIDER's emitted payload: the combined
// candidate set, the coverage report, and the normalized query used to
// produce it.
type ingestOutput struct {
	Candidates      []types.UnifiedPaper    `json:"candidates"`
	Coverage        types.Coverage          `json:"coverage"`
	NormalizedQuery types.NormalizedQuery   `json:"normalized_query"`
}

// metadataEnrichmentAcceptThreshold/DeferThreshold are the confidence
// cutoffs for applying a DOI-resolution decision: >=accept applies it,
// >=defer but below accept leaves it recorded but unapplied, below defer
// rejects it outright.
const (
	metadataEnrichmentAcceptThreshold = 0.9
	metadataEnrichmentDeferThreshold  = 0.75
)

// runIngestProvider fans out to every enabled provider in parallel,
// builds the coverage report, and applies DOI/title fingerprint
// enrichment to the combined candidate set per the configured mode.
func (r *Runner) runIngestProvider(ctx context.Context, reportID string, req types.SearchRequest) (ingestOutput, error) {
	mode := config.QueryPipelineModeValue()
	nq := normalizeQuery(ctx, req, mode)

	profile := req.ProviderProfile
	if len(profile) == 0 {
		profile = config.ProviderProfile()
	}

	type providerResult struct {
		name    string
		papers  []types.UnifiedPaper
		failed  bool
	}
	results := make([]providerResult, len(profile))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range profile {
		i, name := i, name
		rt, ok := r.Providers[types.ProviderSource(name)]
		if !ok {
			results[i] = providerResult{name: name, failed: true}
			continue
		}
		g.Go(func() error {
			papers, err := rt.Search(gctx, nq, req.MaxCandidates)
			if err != nil || len(papers) == 0 {
				results[i] = providerResult{name: name, failed: err != nil}
				return nil
			}
			results[i] = providerResult{name: name, papers: papers}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ingestOutput{}, externalErr(types.StageIngestProvider, fmt.Errorf("provider fan-out: %w", err))
	}

	var candidates []types.UnifiedPaper
	coverage := types.Coverage{ProvidersQueried: profile}
	for _, res := range results {
		if res.failed {
			coverage.ProvidersFailed = append(coverage.ProvidersFailed, res.name)
			continue
		}
		candidates = append(candidates, res.papers...)
	}
	sort.Strings(coverage.ProvidersFailed)
	coverage.Degraded = len(coverage.ProvidersFailed) > 0

	enriched, err := r.enrichMetadata(ctx, candidates)
	if err != nil {
		return ingestOutput{}, err
	}

	return ingestOutput{Candidates: enriched, Coverage: coverage, NormalizedQuery: nq}, nil
}

// doiResolution is the cached shape of one fingerprint-resolution
// decision: the resolved DOI and the confidence the resolver assigned it.
type doiResolution struct {
	DOI        string  `json:"doi"`
	Confidence float64 `json:"confidence"`
}

// enrichMetadata consults the DOI cache by normalized-title fingerprint
// for every candidate missing a DOI. On a cache miss it calls out to
// MetadataResolver for a live Crossref/OpenAlex lookup — synchronously,
// within the enrichment latency budget, for inline_apply; in a detached
// goroutine (never blocking this request) for offline_apply/offline_shadow,
// which only benefit the next run's cache hit. A cached or freshly
// resolved decision above the accept threshold is applied per mode;
// deferred and rejected decisions are left unapplied. Accepted decisions
// only ever fill an empty DOI field, never overwrite one a provider
// already supplied.
func (r *Runner) enrichMetadata(ctx context.Context, candidates []types.UnifiedPaper) ([]types.UnifiedPaper, error) {
	mode := config.MetadataEnrichmentModeValue()
	if r.Caches == nil || r.Caches.DOI == nil {
		return candidates, nil
	}

	budget := time.Duration(config.MetadataEnrichmentMaxLatencyMS()) * time.Millisecond
	deadline := time.Now().Add(budget)

	out := make([]types.UnifiedPaper, len(candidates))
	copy(out, candidates)

	for i := range out {
		if out[i].DOI != "" {
			continue
		}
		if mode == config.EnrichInlineApply && time.Now().After(deadline) {
			break
		}
		title := out[i].Title
		key := canonicalize.NormalizeTitle(title)
		if key == "" {
			continue
		}
		raw, hit, err := r.Caches.DOI.Get(ctx, key)
		if err != nil {
			return nil, externalErr(types.StageIngestProvider, fmt.Errorf("doi cache get: %w", err))
		}

		var res doiResolution
		switch {
		case hit:
			if err := json.Unmarshal(raw, &res); err != nil {
				continue
			}
		case r.MetadataResolver != nil:
			resolved, ok := r.resolveAndCacheDOI(ctx, title, key, mode, deadline)
			if !ok {
				continue
			}
			res = resolved
		default:
			continue
		}

		if res.Confidence < metadataEnrichmentDeferThreshold {
			continue
		}
		if res.Confidence < metadataEnrichmentAcceptThreshold {
			continue // deferred: recorded in the cache already, not applied this run
		}
		switch mode {
		case config.EnrichOfflineApply, config.EnrichInlineApply:
			out[i].DOI = strings.TrimSpace(res.DOI)
		case config.EnrichOfflineShadow:
			// decisions are computed above but never mutate the served candidate
		}
	}
	return out, nil
}

// resolveAndCacheDOI runs a live metadata lookup for a title the DOI cache
// has no decision for yet. inline_apply resolves within whatever remains
// of this request's enrichment budget so its result can still apply to
// the candidate being enriched; offline_apply/offline_shadow instead hand
// the lookup to a detached goroutine bounded by metadataResolveTimeout,
// mirroring compile.go's detached best-effort PDF backfill, so a slow or
// unreachable resolver never adds latency here.
func (r *Runner) resolveAndCacheDOI(ctx context.Context, title, key string, mode config.MetadataEnrichmentMode, deadline time.Time) (doiResolution, bool) {
	if mode != config.EnrichInlineApply {
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), metadataResolveTimeout)
			defer cancel()
			r.resolveDOIWithRetry(bgCtx, title, key)
		}()
		return doiResolution{}, false
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return doiResolution{}, false
	}
	if remaining > metadataResolveTimeout {
		remaining = metadataResolveTimeout
	}
	resolveCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return r.resolveDOIWithRetry(resolveCtx, title, key)
}

// resolveDOIWithRetry calls MetadataResolver, retrying any error up to
// config.MetadataEnrichmentRetryMax() times with an exponential backoff
// (250ms initial interval, 2s cap), then caches
// whatever it settles on — including a zero-confidence miss, so a
// persistently unresolvable title stops re-triggering a live lookup on
// every subsequent ingest.
func (r *Runner) resolveDOIWithRetry(ctx context.Context, title, key string) (doiResolution, bool) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var doi string
	var confidence float64
	var err error
	for attempt := 0; attempt <= config.MetadataEnrichmentRetryMax(); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return doiResolution{}, false
			}
		}
		doi, confidence, err = r.MetadataResolver.Resolve(ctx, title)
		if err == nil {
			break
		}
	}
	if err != nil {
		return doiResolution{}, false
	}

	res := doiResolution{DOI: strings.TrimSpace(doi), Confidence: confidence}
	if raw, marshalErr := json.Marshal(res); marshalErr == nil {
		_ = r.Caches.DOI.Put(context.Background(), key, raw)
	}
	return res, res.DOI != ""
}

// populateDOICache is called once a canonical DOI is known for a title
// fingerprint (from NORMALIZE/DEDUPE), so future INGEST_PROVIDER runs can
// resolve it without a live Crossref/OpenAlex lookup.
func (r *Runner) populateDOICache(ctx context.Context, title, doi string, confidence float64) error {
	if r.Caches == nil || r.Caches.DOI == nil || doi == "" {
		return nil
	}
	key := canonicalize.NormalizeTitle(title)
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(doiResolution{DOI: doi, Confidence: confidence})
	if err != nil {
		return nil
	}
	return r.Caches.DOI.Put(ctx, key, raw)
}
