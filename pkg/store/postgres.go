package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/autograph/gnnsearch/pkg/models"
	"github.com/autograph/gnnsearch/pkg/retry"
)

// PostgreSQLStore implements Store using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore creates a new PostgreSQL store.
// The initial ping is retried so the store can start alongside the database.
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25) // Default
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5) // Default
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute) // Default
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute) // Default
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		budget_s DOUBLE PRECISION NOT NULL,
		num_classes INTEGER NOT NULL,
		num_nodes INTEGER NOT NULL,
		num_edges INTEGER NOT NULL,
		concurrency INTEGER NOT NULL,
		submitted INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		selected JSONB,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS trials (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		trial_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		spec JSONB NOT NULL,
		status TEXT NOT NULL,
		val_accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
		error TEXT,
		queued_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		PRIMARY KEY (run_id, trial_id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_trials_run_seq ON trials(run_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or updates a run
func (s *PostgreSQLStore) SaveRun(run *models.Run) error {
	selected, err := json.Marshal(run.Selected)
	if err != nil {
		return fmt.Errorf("failed to marshal selected: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs
		(id, budget_s, num_classes, num_nodes, num_edges, concurrency, submitted, completed,
		 failed, selected, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			submitted = EXCLUDED.submitted,
			completed = EXCLUDED.completed,
			failed = EXCLUDED.failed,
			concurrency = EXCLUDED.concurrency,
			selected = EXCLUDED.selected,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`, run.ID, run.BudgetS, run.NumClasses, run.NumNodes, run.NumEdges, run.Concurrency,
		run.Submitted, run.Completed, run.Failed, string(selected), string(run.Status),
		run.Error, run.StartedAt, nullTime(run.FinishedAt))
	return err
}

// GetRun retrieves a run by ID
func (s *PostgreSQLStore) GetRun(id string) (*models.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, budget_s, num_classes, num_nodes, num_edges, concurrency, submitted,
		       completed, failed, selected::text, status, error, started_at, finished_at
		FROM runs WHERE id = $1
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first
func (s *PostgreSQLStore) ListRuns(limit int) ([]*models.Run, error) {
	query := `
		SELECT id, budget_s, num_classes, num_nodes, num_edges, concurrency, submitted,
		       completed, failed, selected::text, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
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

// SaveTrial inserts or updates a trial record
func (s *PostgreSQLStore) SaveTrial(rec *models.TrialRecord) error {
	spec, err := json.Marshal(rec.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO trials
		(run_id, trial_id, seq, spec, status, val_accuracy, error, queued_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, trial_id) DO UPDATE SET
			status = EXCLUDED.status,
			val_accuracy = EXCLUDED.val_accuracy,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`, rec.RunID, rec.Spec.ID, rec.Spec.Seq, string(spec), string(rec.Status), rec.ValAccuracy,
		rec.Error, rec.Timing.QueuedAt, rec.Timing.StartedAt, rec.Timing.FinishedAt)
	return err
}

// ListTrials returns a run's trials in submission order
func (s *PostgreSQLStore) ListTrials(runID string) ([]*models.TrialRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, spec::text, status, val_accuracy, error, queued_at, started_at, finished_at
		FROM trials WHERE run_id = $1 ORDER BY seq
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

// HealthCheck verifies the database connection
func (s *PostgreSQLStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
