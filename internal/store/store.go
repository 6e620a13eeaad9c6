// Package store provides a SQLite-backed ledger of document processing runs.
// Every Process call on a source appends one row, so operators can see when a
// document was last reindexed and how many of its chunks the index accepted.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Run is the recorded outcome of one document processing run.
type Run struct {
	// SourceID is the logical path or URL of the processed document.
	SourceID string `json:"source_id"`
	// DisplayName is the human-readable document name.
	DisplayName string `json:"display_name"`
	// Success reports whether every chunk was indexed without error.
	Success bool `json:"success"`
	// ChunksCreated is the number of chunks the splitter produced.
	ChunksCreated int `json:"chunks_created"`
	// ChunksIndexed is the number of entries the index accepted.
	ChunksIndexed int `json:"chunks_indexed"`
	// ChunksFailed is the number of entries the index rejected.
	ChunksFailed int `json:"chunks_failed"`
	// StaleDeleted is the number of previous entries removed first.
	StaleDeleted int `json:"stale_deleted"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// Duration is the wall-clock processing time.
	Duration time.Duration `json:"duration_ns"`
	// FinishedAt is when the run completed. Zero means now.
	FinishedAt time.Time `json:"finished_at"`
}

// RunLedger persists and lists processing runs. Implementations must be safe
// for concurrent use.
type RunLedger interface {
	// Record appends a run.
	Record(ctx context.Context, run Run) error
	// Recent returns up to n runs, newest first. An empty sourceID lists
	// runs for every source.
	Recent(ctx context.Context, sourceID string, n int) ([]Run, error)
	// Close releases any resources held by the ledger.
	Close() error
}

// SQLiteStore is a RunLedger backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns ~/.ragindex/runs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragindex")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "runs.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id       TEXT    NOT NULL,
    display_name    TEXT    NOT NULL,
    success         INTEGER NOT NULL CHECK(success IN (0, 1)),
    chunks_created  INTEGER NOT NULL,
    chunks_indexed  INTEGER NOT NULL,
    chunks_failed   INTEGER NOT NULL,
    stale_deleted   INTEGER NOT NULL,
    error           TEXT    NOT NULL,
    duration_ms     INTEGER NOT NULL,
    finished_at     INTEGER NOT NULL  -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_runs_source_finished
    ON runs (source_id, finished_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record appends a run.
func (s *SQLiteStore) Record(ctx context.Context, run Run) error {
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	const q = `
INSERT INTO runs (source_id, display_name, success, chunks_created, chunks_indexed,
                  chunks_failed, stale_deleted, error, duration_ms, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		run.SourceID, run.DisplayName, boolToInt(run.Success),
		run.ChunksCreated, run.ChunksIndexed, run.ChunksFailed, run.StaleDeleted,
		run.Error, run.Duration.Milliseconds(), finished.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: record %s: %w", run.SourceID, err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, sourceID string, n int) ([]Run, error) {
	const q = `
SELECT source_id, display_name, success, chunks_created, chunks_indexed,
       chunks_failed, stale_deleted, error, duration_ms, finished_at
FROM   runs
WHERE  (? = '' OR source_id = ?)
ORDER  BY finished_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, sourceID, sourceID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var success int
		var durMS, finishedMS int64
		if err := rows.Scan(&r.SourceID, &r.DisplayName, &success,
			&r.ChunksCreated, &r.ChunksIndexed, &r.ChunksFailed, &r.StaleDeleted,
			&r.Error, &durMS, &finishedMS); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		r.Success = success == 1
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.FinishedAt = time.UnixMilli(finishedMS)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
