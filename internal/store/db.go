package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrParamsNotFound is returned when an athlete has no stored model parameters
var ErrParamsNotFound = errors.New("banister parameters not found")

// ErrTrajectoryNotFound is returned when no trajectory exists for an event
var ErrTrajectoryNotFound = errors.New("trajectory not found")

// ErrFindingNotFound is returned when a correlation finding doesn't exist
var ErrFindingNotFound = errors.New("correlation finding not found")

// ErrDuplicateSample is returned when an already-ingested sample is re-sent.
// Samples are immutable once ingested.
var ErrDuplicateSample = errors.New("sample already ingested")

// DB wraps the SQLite connection pool
type DB struct {
	*sql.DB
}

// Open opens the SQLite database at path, creating it if necessary.
// An empty path uses ~/.adaptive-training/data.db.
func Open(path string) (*DB, error) {
	if path == "" {
		p, err := defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("getting db path: %w", err)
		}
		path = p
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := prepare(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{sqlDB}, nil
}

// prepare applies connection pragmas and migrations
func prepare(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}

	if err := migrate(sqlDB); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// defaultDBPath returns the path to the SQLite database file
func defaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".adaptive-training", "data.db"), nil
}
