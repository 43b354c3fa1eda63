// Package storage defines the persistence interface every pipeline
// component reads and writes through, plus a SQLite-backed implementation
// under storage/sqlite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors every backend implementation wraps its failures into.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation or a lease that
	// has already been claimed by another owner.
	ErrConflict = errors.New("conflict")

	// ErrStale indicates an optimistic-concurrency check failed: the row
	// was mutated by someone else between read and write.
	ErrStale = errors.New("stale write")
)

// WrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound so callers can errors.Is against one
// sentinel regardless of backend.
func WrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is or wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
