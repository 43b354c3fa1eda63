// Package cache provides the TTL-bounded, content-addressed caches shared
// across pipeline stages: query normalization, DOI/PMID resolution,
// canonical-record merges, and extraction results. Each is a thin,
// named view over storage.CacheStore with hit/miss/write telemetry and
// singleflight de-duplication of concurrent loads for the same key.
package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/telemetry"
)

// Cache is one named TTL cache backed by storage.CacheStore.
type Cache struct {
	name    string
	backend storage.CacheStore
	ttl     time.Duration
	group   singleflight.Group
}

// New constructs a named cache with a default TTL. Individual Put calls
// may override the TTL per entry.
func New(name string, backend storage.CacheStore, ttl time.Duration) *Cache {
	return &Cache{name: name, backend: backend, ttl: ttl}
}

// Get returns the raw cached bytes for key, recording a hit/miss metric
// sample either way.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.backend.CacheGet(ctx, c.name, key, time.Now().UTC())
	if err != nil {
		if storage.IsNotFound(err) {
			telemetry.RecordCacheEvent(ctx, c.name, false)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache %s: get %s: %w", c.name, key, err)
	}
	telemetry.RecordCacheEvent(ctx, c.name, true)
	return entry.Value, true, nil
}

// Put writes value for key using the cache's default TTL.
func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	return c.PutWithTTL(ctx, key, value, c.ttl)
}

// PutWithTTL writes value for key with an explicit TTL.
func (c *Cache) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.backend.CachePut(ctx, storage.CacheEntry{
		Cache: c.name, Key: key, Value: value, ExpiresAt: time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("cache %s: put %s: %w", c.name, key, err)
	}
	return nil
}

// Loader computes the value to cache for key on a miss.
type Loader func(ctx context.Context) ([]byte, error)

// GetOrLoad returns the cached value for key, or calls load on a miss and
// caches its result. Concurrent GetOrLoad calls for the same key within
// one process share a single in-flight load via singleflight — only one
// goroutine calls load; the rest wait on its result. This does not dedupe
// across processes; the storage-layer cache entry itself is what a second
// process reuses.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load Loader) ([]byte, error) {
	if v, hit, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if hit {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, value); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// EvictExpired removes expired entries from this cache and returns how
// many were removed. Intended to run periodically, not per-request.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	return c.backend.CacheEvictExpired(ctx, c.name, time.Now().UTC())
}
