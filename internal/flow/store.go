// Package flow persists information-flow traces so they can be inspected
// after the process that produced them has exited. The pipeline itself only
// hands records to its caller; this store is the caller-side persistence the
// CLI uses.
package flow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aienhance/aienhance/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	state      TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS flow_records (
	run_id    TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	layer     TEXT NOT NULL,
	unit      TEXT NOT NULL,
	input     TEXT,
	output    TEXT,
	success   INTEGER NOT NULL,
	degraded  INTEGER NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// RunSummary is one persisted run's header row.
type RunSummary struct {
	RunID     string
	Query     string
	State     pipeline.State
	StartedAt time.Time
	Duration  time.Duration
}

// Store persists run traces in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the trace database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun persists a run header and its full trace atomically.
func (s *Store) SaveRun(ctx context.Context, result *pipeline.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (run_id, query, state, started_at, duration_ms) VALUES (?, ?, ?, ?, ?)",
		result.RunID, result.Query, string(result.State), result.StartedAt.UTC(), result.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, rec := range result.Flow {
		input, _ := json.Marshal(rec.Input)
		output, _ := json.Marshal(rec.Output)
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO flow_records
				(run_id, seq, layer, unit, input, output, success, degraded, timestamp, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID, rec.Seq, rec.Layer, rec.Unit,
			string(input), string(output), rec.Success, rec.Degraded,
			rec.Timestamp.UTC(), rec.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert flow record %d: %w", rec.Seq, err)
		}
	}

	return tx.Commit()
}

// Records returns a run's flow records in sequence order.
func (s *Store) Records(ctx context.Context, runID string) ([]pipeline.FlowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, layer, unit, input, output, success, degraded, timestamp, duration_ms
		FROM flow_records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query flow records: %w", err)
	}
	defer rows.Close()

	var out []pipeline.FlowRecord
	for rows.Next() {
		var rec pipeline.FlowRecord
		var input, output string
		var durationMS int64
		if err := rows.Scan(&rec.Seq, &rec.Layer, &rec.Unit, &input, &output,
			&rec.Success, &rec.Degraded, &rec.Timestamp, &durationMS); err != nil {
			return nil, fmt.Errorf("scan flow record: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		json.Unmarshal([]byte(input), &rec.Input)
		json.Unmarshal([]byte(output), &rec.Output)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Runs lists persisted run headers, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, query, state, started_at, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var state string
		var durationMS int64
		if err := rows.Scan(&r.RunID, &r.Query, &state, &r.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State = pipeline.State(state)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
