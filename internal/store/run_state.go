package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run state keys
const (
	RunKeyCalibration = "last_calibration"
	RunKeyCorrelation = "last_correlation"
)

func runStateKey(kind, athleteID string) string {
	return kind + ":" + athleteID
}

// GetRunState retrieves a run state value by key.
// Returns empty string if key doesn't exist.
func (db *DB) GetRunState(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `
		SELECT value FROM run_state WHERE key = ?
	`, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetRunState sets a run state value
func (db *DB) SetRunState(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO run_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// LastRun returns when a run kind last completed for an athlete (zero if never)
func (db *DB) LastRun(ctx context.Context, kind, athleteID string) (time.Time, error) {
	v, err := db.GetRunState(ctx, runStateKey(kind, athleteID))
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing run state %q: %w", v, err)
	}
	return t, nil
}

// RecordRun stores the completion time of a run kind for an athlete
func (db *DB) RecordRun(ctx context.Context, kind, athleteID string, at time.Time) error {
	return db.SetRunState(ctx, runStateKey(kind, athleteID), at.UTC().Format(time.RFC3339))
}
