// Package audit records a queryable history of forwarded exchanges to an
// embedded SQLite file: method, matched path, target service, status, and
// latency per request. It is an operator-facing record of proxy decisions,
// queried out-of-band and never read back by the request path.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Log writes one row per forwarded exchange to an embedded SQLite database.
type Log struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the audit database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TEXT NOT NULL,
	method     TEXT NOT NULL,
	path       TEXT NOT NULL,
	matched    INTEGER NOT NULL,
	target     TEXT NOT NULL,
	status     INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: migrating schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Entry is one forwarded exchange.
type Entry struct {
	Method     string
	Path       string
	Matched    bool
	Target     string
	Status     int
	Latency    time.Duration
	OccurredAt time.Time
}

// Record inserts one exchange. Failures are returned for the caller to log
// at Error level — audit-write failure never aborts the request itself.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO exchanges (occurred_at, method, path, matched, target, status, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
		e.Method, e.Path, boolToInt(e.Matched), e.Target, e.Status, e.Latency.Milliseconds(),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
