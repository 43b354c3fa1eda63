package cache

import (
	"time"

	"github.com/corpuspipe/corpuspipe/internal/storage"
)

// Default TTLs for the four named caches. Query responses get a six-hour
// window; DOI and canonical-record metadata are kept for thirty days;
// extraction results are keyed by a fixed (study, extractor version,
// prompt, model) tuple and are kept for a hundred years, which leaves them
// effectively open-ended.
const (
	QueryCacheTTL           = 6 * time.Hour
	DOICacheTTL             = 30 * 24 * time.Hour
	CanonicalRecordCacheTTL = 30 * 24 * time.Hour
	ExtractionCacheTTL      = 100 * 365 * 24 * time.Hour
)

// PaperKey namespaces a canonical-record cache key by paper_id, distinct
// from the fingerprint keys canonicalize.Merger reads and writes around
// each merge, so a paper_id lookup (e.g. GET /paper/{id}) doesn't need to
// know a paper's title/year/DOI fingerprint to find it.
func PaperKey(paperID string) string { return "paper:" + paperID }

// Set is the four TTL-bounded caches the pipeline shares across reports.
type Set struct {
	Query           *Cache
	DOI             *Cache
	CanonicalRecord *Cache
	Extraction      *Cache
}

// NewSet constructs all four named caches over one storage.CacheStore
// backend — they differ only by name and TTL, not by backing table.
func NewSet(backend storage.CacheStore) *Set {
	return &Set{
		Query:           New("query", backend, QueryCacheTTL),
		DOI:             New("doi", backend, DOICacheTTL),
		CanonicalRecord: New("canonical_record", backend, CanonicalRecordCacheTTL),
		Extraction:      New("extraction", backend, ExtractionCacheTTL),
	}
}
