package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/corpuspipe/corpuspipe/internal/storage"
)

// CacheGet also records the hit: a single UPDATE ... RETURNING bumps
// hit_count and last_hit_at and returns the post-update row atomically,
// so concurrent readers of the same entry never race a separate
// read-then-write.
func (s *Storage) CacheGet(ctx context.Context, cache, key string, now time.Time) (*storage.CacheEntry, error) {
	var e storage.CacheEntry
	var lastHitAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE cache_entries SET hit_count = hit_count + 1, last_hit_at = ?
		WHERE cache = ? AND key = ? AND expires_at > ?
		RETURNING cache, key, value, expires_at, created_at, hit_count, last_hit_at
	`, now, cache, key, now).Scan(&e.Cache, &e.Key, &e.Value, &e.ExpiresAt, &e.CreatedAt, &e.HitCount, &lastHitAt)
	if err != nil {
		return nil, storage.WrapDBError("cache get", err)
	}
	if lastHitAt.Valid {
		e.LastHitAt = lastHitAt.Time
	}
	return &e, nil
}

func (s *Storage) CachePut(ctx context.Context, entry storage.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache, key, value, expires_at, created_at, hit_count, last_hit_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT (cache, key) DO UPDATE SET
			value = excluded.value, expires_at = excluded.expires_at, created_at = excluded.created_at,
			hit_count = 0, last_hit_at = NULL
	`, entry.Cache, entry.Key, entry.Value, entry.ExpiresAt, entry.CreatedAt)
	return storage.WrapDBError("cache put", err)
}

func (s *Storage) CacheDelete(ctx context.Context, cache, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache = ? AND key = ?`, cache, key)
	return storage.WrapDBError("cache delete", err)
}

func (s *Storage) CacheEvictExpired(ctx context.Context, cache string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE cache = ? AND expires_at <= ?
	`, cache, now)
	if err != nil {
		return 0, storage.WrapDBError("cache evict expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storage.WrapDBError("cache evict expired rows affected", err)
	}
	return int(n), nil
}
