package sqlite

import (
	"context"
	"database/sql"

	"github.com/corpuspipe/corpuspipe/internal/storage"
)

// SetConfigValue sets a persisted key/value pair, independent of the
// process-level internal/config singleton — used for state that must
// survive restarts across a whole deployment (e.g. the active provider
// profile rollout percentage), not just one process's environment.
func (s *Storage) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return storage.WrapDBError("set config value", err)
}

func (s *Storage) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, storage.WrapDBError("get config value", err)
}
