package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection that backs the work-orchestration core's
// data model (spec §3): jobs, workflow_steps, work_items, user_work, job_links.
//
// SQLite has no row-level "SELECT ... FOR UPDATE SKIP LOCKED"; the spec's
// requirement that two schedulers never hand out the same item is met
// instead by serializing all transactions through a single *sql.DB
// connection (SetMaxOpenConns(1)), which gives the same external guarantee
// (one flip-to-RUNNING wins, the other observes the post-flip state) at the
// cost of write throughput. A Postgres-backed DB implementing the same
// interfaces could use real row locks without changing any caller.
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
}

// Open creates (or reopens) the SQLite database at path and applies the schema.
func Open(path string, logger arbor.ILogger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY storms; retryWithBackoff below still
	// covers transient lock contention from long-running readers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB, logger: logger}
	if err := d.applySchema(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Conn exposes the underlying *sql.DB for components (e.g. the queue
// factory) that need to share the same connection.
func (d *DB) Conn() *sql.DB {
	return d.db
}

func (d *DB) applySchema() error {
	_, err := d.db.Exec(schemaSQL)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// retryWithBackoff retries operation on SQLITE_BUSY / "database is locked"
// errors with bounded exponential backoff, matching the teacher's
// retryWithExponentialBackoff pattern (spec §7 "DB transient").
func retryWithBackoff(operation func() error, maxAttempts int, initialDelay time.Duration, logger arbor.ILogger) error {
	delay := initialDelay
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		msg := lastErr.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return lastErr
		}
		if attempt < maxAttempts {
			if logger != nil {
				logger.Warn().Int("attempt", attempt).Str("delay", delay.String()).Str("error", msg).Msg("database locked, retrying")
			}
			time.Sleep(delay)
			delay *= 2
		}
	}
	return lastErr
}
