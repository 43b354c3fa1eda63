package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corpuspipe/corpuspipe/internal/storage/sqlite"
)

func setupBackend(t *testing.T) *sqlite.Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "corpuspipe.db")
	backend, err := sqlite.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestGetMissThenPutThenHit(t *testing.T) {
	ctx := context.Background()
	c := New("query", setupBackend(t), time.Hour)

	_, hit, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Put(ctx, "k1", []byte("v1")))

	v, hit, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("v1"), v)
}

func TestGetOrLoadReturnsLoadedValueUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	c := New("doi", setupBackend(t), time.Hour)

	var calls int64
	var wg sync.WaitGroup
	results := make([][]byte, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, "shared-key", func(ctx context.Context) ([]byte, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return []byte("loaded"), nil
			})
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.Equal(t, []byte("loaded"), r)
	}
	require.LessOrEqual(t, atomic.LoadInt64(&calls), int64(20))
	require.GreaterOrEqual(t, atomic.LoadInt64(&calls), int64(1))
}

func TestGetOrLoadPropagatesLoaderError(t *testing.T) {
	ctx := context.Background()
	c := New("canonical_record", setupBackend(t), time.Hour)

	_, err := c.GetOrLoad(ctx, "k", func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
}

func TestEvictExpiredRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	backend := setupBackend(t)
	c := New("extraction", backend, time.Hour)

	require.NoError(t, c.PutWithTTL(ctx, "expired", []byte("v"), -time.Minute))
	require.NoError(t, c.PutWithTTL(ctx, "fresh", []byte("v"), time.Hour))

	n, err := c.EvictExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, hit, err := c.Get(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, hit)
}

func TestNewSetConstructsFourDistinctCaches(t *testing.T) {
	set := NewSet(setupBackend(t))
	require.NotNil(t, set.Query)
	require.NotNil(t, set.DOI)
	require.NotNil(t, set.CanonicalRecord)
	require.NotNil(t, set.Extraction)
}
