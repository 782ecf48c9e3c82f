// Package migrations manages the run-history database schema.
package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add plan_id index on test_runs",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_test_runs_plan_id ON test_runs(plan_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_test_runs_plan_id;
		`,
	},
}

// InitSchema creates all tables required by the history store. It must be
// called before running migrations so every table exists.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS test_runs (
		run_id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		plan_name TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		total_requests INTEGER NOT NULL DEFAULT 0,
		successful_requests INTEGER NOT NULL DEFAULT 0,
		failed_requests INTEGER NOT NULL DEFAULT 0,
		min_response_ms INTEGER NOT NULL DEFAULT 0,
		max_response_ms INTEGER NOT NULL DEFAULT 0,
		mean_response_ms REAL NOT NULL DEFAULT 0,
		p50_response_ms INTEGER NOT NULL DEFAULT 0,
		p95_response_ms INTEGER NOT NULL DEFAULT 0,
		p99_response_ms INTEGER NOT NULL DEFAULT 0,
		requests_per_second REAL NOT NULL DEFAULT 0,
		total_bytes_received INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_test_runs_started_at ON test_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS run_time_buckets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		second INTEGER NOT NULL,
		requests INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		avg_ms REAL NOT NULL DEFAULT 0,
		min_ms INTEGER NOT NULL DEFAULT 0,
		max_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES test_runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_time_buckets_run_id ON run_time_buckets(run_id, second);

	CREATE TABLE IF NOT EXISTS run_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		request_name TEXT NOT NULL,
		thread_group TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		assertions_passed INTEGER NOT NULL DEFAULT 1,
		error TEXT,
		FOREIGN KEY (run_id) REFERENCES test_runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_results_run_id ON run_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_results_timestamp ON run_results(run_id, timestamp);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Create migrations tracking table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Apply pending migrations
	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		_, err := db.Exec(migration.Up)
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
