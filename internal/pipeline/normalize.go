package pipeline

import (
	"context"
	"encoding/json"

	"github.com/corpuspipe/corpuspipe/internal/canonicalize"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// normalizeOutput is NORMALIZE's emitted payload: the hydrated candidate
// set, plus the coverage report and normalized query carried forward
// unchanged from INGEST_PROVIDER for COMPILE_REPORT to consume later.
type normalizeOutput struct {
	Candidates      []types.UnifiedPaper  `json:"candidates"`
	Coverage        types.Coverage        `json:"coverage"`
	NormalizedQuery types.NormalizedQuery `json:"normalized_query"`
}

// doiCacheKey namespaces a normalized-DOI cache key distinctly from the
// title-fingerprint keys enrichMetadata uses in the same DOI cache, so a
// full hydrated candidate snapshot and a bare resolution decision never
// collide.
func doiCacheKey(normalizedDOI string) string { return "doi:" + normalizedDOI }

// runNormalize hydrates every candidate carrying a DOI from a previously
// cached, richer snapshot of the same DOI — filling only empty fields —
// and then refreshes the cache with whatever is now the richest known
// snapshot for that DOI.
func (r *Runner) runNormalize(ctx context.Context, in ingestOutput) (normalizeOutput, error) {
	candidates := in.Candidates
	if r.Caches == nil || r.Caches.DOI == nil {
		return normalizeOutput{Candidates: candidates, Coverage: in.Coverage, NormalizedQuery: in.NormalizedQuery}, nil
	}

	out := make([]types.UnifiedPaper, len(candidates))
	for i, c := range candidates {
		hydrated := c
		doi := canonicalize.NormalizeDOI(c.DOI)
		if doi != "" {
			if raw, hit, err := r.Caches.DOI.Get(ctx, doiCacheKey(doi)); err != nil {
				return normalizeOutput{}, externalErr(types.StageNormalize, err)
			} else if hit {
				var cached types.UnifiedPaper
				if err := json.Unmarshal(raw, &cached); err == nil {
					hydrated = fillEmptyFields(hydrated, cached)
				}
			}
		}
		out[i] = hydrated

		if doi != "" {
			if raw, err := json.Marshal(hydrated); err == nil {
				_ = r.Caches.DOI.Put(ctx, doiCacheKey(doi), raw)
			}
		}
	}
	return normalizeOutput{Candidates: out, Coverage: in.Coverage, NormalizedQuery: in.NormalizedQuery}, nil
}

func fillEmptyFields(fresh, cached types.UnifiedPaper) types.UnifiedPaper {
	if fresh.Abstract == "" {
		fresh.Abstract = cached.Abstract
	}
	if fresh.Venue == "" {
		fresh.Venue = cached.Venue
	}
	if fresh.PubmedID == "" {
		fresh.PubmedID = cached.PubmedID
	}
	if fresh.OpenAlexID == "" {
		fresh.OpenAlexID = cached.OpenAlexID
	}
	if fresh.ArxivID == "" {
		fresh.ArxivID = cached.ArxivID
	}
	if fresh.PDFURL == "" {
		fresh.PDFURL = cached.PDFURL
	}
	if fresh.LandingPageURL == "" {
		fresh.LandingPageURL = cached.LandingPageURL
	}
	if fresh.CitationCount == 0 {
		fresh.CitationCount = cached.CitationCount
	}
	return fresh
}
