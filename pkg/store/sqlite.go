package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/autograph/gnnsearch/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the run history
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers do not block the single writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _txlock=immediate: take the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		budget_s REAL NOT NULL,
		num_classes INTEGER NOT NULL,
		num_nodes INTEGER NOT NULL,
		num_edges INTEGER NOT NULL,
		concurrency INTEGER NOT NULL,
		submitted INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		selected TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS trials (
		run_id TEXT NOT NULL,
		trial_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		spec TEXT NOT NULL,
		status TEXT NOT NULL,
		val_accuracy REAL NOT NULL DEFAULT 0,
		error TEXT,
		queued_at DATETIME,
		started_at DATETIME,
		finished_at DATETIME,
		PRIMARY KEY (run_id, trial_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_trials_run_seq ON trials(run_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or replaces a run
func (s *SQLiteStore) SaveRun(run *models.Run) error {
	selected, err := json.Marshal(run.Selected)
	if err != nil {
		return fmt.Errorf("failed to marshal selected: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, budget_s, num_classes, num_nodes, num_edges, concurrency, submitted, completed,
		 failed, selected, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.BudgetS, run.NumClasses, run.NumNodes, run.NumEdges, run.Concurrency,
		run.Submitted, run.Completed, run.Failed, string(selected), string(run.Status),
		run.Error, run.StartedAt, nullTime(run.FinishedAt))
	return err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, budget_s, num_classes, num_nodes, num_edges, concurrency, submitted,
		       completed, failed, selected, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first
func (s *SQLiteStore) ListRuns(limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, budget_s, num_classes, num_nodes, num_edges, concurrency, submitted,
		       completed, failed, selected, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveTrial inserts or replaces a trial record
func (s *SQLiteStore) SaveTrial(rec *models.TrialRecord) error {
	spec, err := json.Marshal(rec.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO trials
		(run_id, trial_id, seq, spec, status, val_accuracy, error, queued_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Spec.ID, rec.Spec.Seq, string(spec), string(rec.Status), rec.ValAccuracy,
		rec.Error, rec.Timing.QueuedAt, rec.Timing.StartedAt, rec.Timing.FinishedAt)
	return err
}

// ListTrials returns a run's trials in submission order
func (s *SQLiteStore) ListTrials(runID string) ([]*models.TrialRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, spec, status, val_accuracy, error, queued_at, started_at, finished_at
		FROM trials WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.TrialRecord
	for rows.Next() {
		rec, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
