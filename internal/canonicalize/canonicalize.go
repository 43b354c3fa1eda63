package canonicalize

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/corpuspipe/corpuspipe/internal/cache"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// Merger canonicalizes raw provider candidates into deduplicated canonical
// papers, consulting and populating the canonical-record cache by
// fingerprint around each merge.
type Merger struct {
	recordCache *cache.Cache
}

// New constructs a Merger backed by the canonical-record cache.
func New(recordCache *cache.Cache) *Merger {
	return &Merger{recordCache: recordCache}
}

// Canonicalize merges papers into canonical records. The result is
// invariant under any permutation of papers: the same input set, in any
// order, produces the same canonical records (by paper_id) with the same
// provenance sets.
func (m *Merger) Canonicalize(ctx context.Context, papers []types.UnifiedPaper) ([]types.CanonicalPaper, error) {
	if len(papers) == 0 {
		return nil, nil
	}

	clusters := clusterCandidates(papers)
	out := make([]types.CanonicalPaper, 0, len(clusters))

	for _, members := range clusters {
		group := make([]types.UnifiedPaper, len(members))
		for i, idx := range members {
			group[i] = papers[idx]
		}

		merged := buildCanonical(group)

		if m.recordCache != nil {
			cached, hit, err := m.consultCache(ctx, merged)
			if err != nil {
				return nil, err
			}
			if hit {
				merged = foldCached(merged, cached)
			}
			if err := m.populateCache(ctx, merged); err != nil {
				return nil, err
			}
		}

		out = append(out, merged)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].PaperID < out[j].PaperID })
	return out, nil
}

func (m *Merger) consultCache(ctx context.Context, p types.CanonicalPaper) (types.CanonicalPaper, bool, error) {
	key := fingerprint(NormalizeTitle(p.Title), p.Year, p.DOI)
	raw, hit, err := m.recordCache.Get(ctx, key)
	if err != nil {
		return types.CanonicalPaper{}, false, fmt.Errorf("canonicalize: cache get: %w", err)
	}
	if !hit {
		return types.CanonicalPaper{}, false, nil
	}
	var cached types.CanonicalPaper
	if err := json.Unmarshal(raw, &cached); err != nil {
		// a corrupt cache entry is treated as a miss rather than a hard failure
		return types.CanonicalPaper{}, false, nil
	}
	return cached, true, nil
}

func (m *Merger) populateCache(ctx context.Context, p types.CanonicalPaper) error {
	key := fingerprint(NormalizeTitle(p.Title), p.Year, p.DOI)
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("canonicalize: marshal for cache: %w", err)
	}
	if err := m.recordCache.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("canonicalize: cache put: %w", err)
	}
	return nil
}

// foldCached merges a previously cached canonical record into a freshly
// computed one, using the same fold rules as buildCanonical: max/OR for
// scalars, union for referenced_ids, fill-if-empty for text/ids, and a
// union of provenance entries keyed by source (keeping the higher
// metadata_confidence entry on a collision).
func foldCached(fresh, cached types.CanonicalPaper) types.CanonicalPaper {
	if fresh.DOI == "" {
		fresh.DOI = cached.DOI
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
	if fresh.Abstract == "" {
		fresh.Abstract = cached.Abstract
	}
	if fresh.Venue == "" {
		fresh.Venue = cached.Venue
	}
	if fresh.PDFURL == "" {
		fresh.PDFURL = cached.PDFURL
	}
	if fresh.LandingPageURL == "" {
		fresh.LandingPageURL = cached.LandingPageURL
	}

	if cached.SourceConfidence > fresh.SourceConfidence {
		fresh.SourceConfidence = cached.SourceConfidence
	}
	if cached.CitationCount > fresh.CitationCount {
		fresh.CitationCount = cached.CitationCount
	}
	fresh.IsRetracted = fresh.IsRetracted || cached.IsRetracted
	fresh.IsPreprint = fresh.IsPreprint || cached.IsPreprint

	fresh.ReferencedIDs = unionSorted(fresh.ReferencedIDs, cached.ReferencedIDs)
	fresh.Provenance = unionProvenance(fresh.Provenance, cached.Provenance)

	return fresh
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func unionProvenance(a, b []types.ProvenanceEntry) []types.ProvenanceEntry {
	bySource := make(map[types.ProviderSource]types.ProvenanceEntry, len(a)+len(b))
	for _, e := range a {
		bySource[e.Source] = e
	}
	for _, e := range b {
		existing, ok := bySource[e.Source]
		if !ok || e.MetadataConfidence > existing.MetadataConfidence {
			bySource[e.Source] = e
		}
	}
	out := make([]types.ProvenanceEntry, 0, len(bySource))
	for _, e := range bySource {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
