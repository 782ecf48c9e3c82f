// Package history persists completed test runs to a local SQLite database so
// past results can be listed, exported and compared.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rmeter/rmeter/internal/migrations"
	"github.com/rmeter/rmeter/internal/results"
)

// Store handles run persistence. Only finished runs are written; live state
// never touches the database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at dbPath and brings the
// schema up to date. Use ":memory:" for an ephemeral store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a finished run: its summary row, per-second buckets, and
// per-request rows, in one transaction.
func (s *Store) SaveRun(run *results.TestRunResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sum := &run.Summary
	_, err = tx.Exec(`
		INSERT INTO test_runs
		(run_id, plan_id, plan_name, started_at, finished_at,
		 total_requests, successful_requests, failed_requests,
		 min_response_ms, max_response_ms, mean_response_ms,
		 p50_response_ms, p95_response_ms, p99_response_ms,
		 requests_per_second, total_bytes_received)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID.String(), sum.PlanID.String(), sum.PlanName, sum.StartedAt, sum.FinishedAt,
		sum.TotalRequests, sum.SuccessfulRequests, sum.FailedRequests,
		sum.MinResponseMs, sum.MaxResponseMs, sum.MeanResponseMs,
		sum.P50ResponseMs, sum.P95ResponseMs, sum.P99ResponseMs,
		sum.RequestsPerSecond, sum.TotalBytesReceived)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	bucketStmt, err := tx.Prepare(`
		INSERT INTO run_time_buckets (run_id, second, requests, errors, avg_ms, min_ms, max_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare bucket insert: %w", err)
	}
	defer bucketStmt.Close()
	for _, b := range run.TimeSeries {
		if _, err := bucketStmt.Exec(run.RunID.String(), b.Second, b.Requests, b.Errors, b.AvgMs, b.MinMs, b.MaxMs); err != nil {
			return fmt.Errorf("failed to insert time bucket: %w", err)
		}
	}

	resultStmt, err := tx.Prepare(`
		INSERT INTO run_results
		(run_id, request_name, thread_group, timestamp, method, url,
		 status_code, elapsed_ms, size_bytes, assertions_passed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer resultStmt.Close()
	for i := range run.Results {
		r := &run.Results[i]
		if _, err := resultStmt.Exec(run.RunID.String(), r.RequestName, r.ThreadGroupName,
			r.Timestamp, r.Method, r.URL, r.StatusCode, r.ElapsedMs, r.SizeBytes,
			r.AssertionsPassed, nullable(r.Error)); err != nil {
			return fmt.Errorf("failed to insert result row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RunEntry is a lightweight listing row for stored runs.
type RunEntry struct {
	RunID             uuid.UUID `json:"run_id"`
	PlanName          string    `json:"plan_name"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	TotalRequests     uint64    `json:"total_requests"`
	RequestsPerSecond float64   `json:"requests_per_second"`
	MeanResponseMs    float64   `json:"mean_response_ms"`
	ErrorRate         float64   `json:"error_rate"`
}

// ListRuns returns stored runs, newest first, up to limit (0 = no limit).
func (s *Store) ListRuns(limit int) ([]RunEntry, error) {
	query := `
		SELECT run_id, plan_name, started_at, finished_at,
		       total_requests, failed_requests, requests_per_second, mean_response_ms
		FROM test_runs
		ORDER BY started_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var runID string
		var failed uint64
		if err := rows.Scan(&runID, &e.PlanName, &e.StartedAt, &e.FinishedAt,
			&e.TotalRequests, &failed, &e.RequestsPerSecond, &e.MeanResponseMs); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		e.RunID, err = uuid.Parse(runID)
		if err != nil {
			return nil, fmt.Errorf("corrupt run_id %q: %w", runID, err)
		}
		if e.TotalRequests > 0 {
			e.ErrorRate = float64(failed) / float64(e.TotalRequests)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetRun loads a stored run by ID, including its time series and request
// rows. Assertion and extraction detail is not persisted.
func (s *Store) GetRun(runID uuid.UUID) (*results.TestRunResult, error) {
	run := &results.TestRunResult{RunID: runID}
	sum := &run.Summary

	var planID string
	err := s.db.QueryRow(`
		SELECT plan_id, plan_name, started_at, finished_at,
		       total_requests, successful_requests, failed_requests,
		       min_response_ms, max_response_ms, mean_response_ms,
		       p50_response_ms, p95_response_ms, p99_response_ms,
		       requests_per_second, total_bytes_received
		FROM test_runs WHERE run_id = ?
	`, runID.String()).Scan(&planID, &sum.PlanName, &sum.StartedAt, &sum.FinishedAt,
		&sum.TotalRequests, &sum.SuccessfulRequests, &sum.FailedRequests,
		&sum.MinResponseMs, &sum.MaxResponseMs, &sum.MeanResponseMs,
		&sum.P50ResponseMs, &sum.P95ResponseMs, &sum.P99ResponseMs,
		&sum.RequestsPerSecond, &sum.TotalBytesReceived)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if sum.PlanID, err = uuid.Parse(planID); err != nil {
		return nil, fmt.Errorf("corrupt plan_id %q: %w", planID, err)
	}

	buckets, err := s.db.Query(`
		SELECT second, requests, errors, avg_ms, min_ms, max_ms
		FROM run_time_buckets WHERE run_id = ? ORDER BY second
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load time series: %w", err)
	}
	defer buckets.Close()
	for buckets.Next() {
		var b results.TimeBucket
		if err := buckets.Scan(&b.Second, &b.Requests, &b.Errors, &b.AvgMs, &b.MinMs, &b.MaxMs); err != nil {
			return nil, fmt.Errorf("failed to scan time bucket: %w", err)
		}
		run.TimeSeries = append(run.TimeSeries, b)
	}
	if err := buckets.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT request_name, thread_group, timestamp, method, url,
		       status_code, elapsed_ms, size_bytes, assertions_passed, COALESCE(error, '')
		FROM run_results WHERE run_id = ? ORDER BY timestamp
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r results.Result
		if err := rows.Scan(&r.RequestName, &r.ThreadGroupName, &r.Timestamp, &r.Method, &r.URL,
			&r.StatusCode, &r.ElapsedMs, &r.SizeBytes, &r.AssertionsPassed, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		run.Results = append(run.Results, r)
	}
	return run, rows.Err()
}

// DeleteRun removes a stored run and its detail rows.
func (s *Store) DeleteRun(runID uuid.UUID) error {
	if _, err := s.db.Exec("DELETE FROM run_results WHERE run_id = ?", runID.String()); err != nil {
		return fmt.Errorf("failed to delete result rows: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM run_time_buckets WHERE run_id = ?", runID.String()); err != nil {
		return fmt.Errorf("failed to delete time buckets: %w", err)
	}
	res, err := s.db.Exec("DELETE FROM test_runs WHERE run_id = ?", runID.String())
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
