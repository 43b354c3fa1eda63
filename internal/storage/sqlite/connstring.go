package sqlite

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// connString builds a SQLite connection string with the pragmas this
// package relies on: busy_timeout (avoids "database is locked" under
// worker concurrency) and foreign_keys (referential integrity between
// jobs, stage_outputs, and reports). Honors CORPUSPIPE_LOCK_TIMEOUT for
// the busy timeout (default 30s).
func connString(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("CORPUSPIPE_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
		conn += "&_pragma=foreign_keys(ON)"
		return conn
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", path, busyMs)
}
