package store

import (
	"errors"
	"time"

	"github.com/autograph/gnnsearch/pkg/models"
)

// Store persists runs and their trial records.
// Memory, SQLite and PostgreSQL implement this interface.
type Store interface {
	// Run operations
	SaveRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns(limit int) ([]*models.Run, error)

	// Trial operations
	SaveTrial(rec *models.TrialRecord) error
	ListTrials(runID string) ([]*models.TrialRecord, error)

	// Lifecycle
	HealthCheck() error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // file path for sqlite, connection string for postgres

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

var (
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	ErrRunNotFound         = errors.New("run not found")
)

// DefaultSQLitePath is used when a sqlite store is configured without a DSN
const DefaultSQLitePath = "gnnsearch.db"

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.DSN
		if path == "" {
			path = DefaultSQLitePath
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
