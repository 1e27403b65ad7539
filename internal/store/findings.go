package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const findingColumns = `id, athlete_id, input_name, output_metric, lag_days, correlation, p_value,
	sample_size, times_confirmed, is_active, confidence, last_surfaced_at,
	first_detected_at, last_confirmed_at, last_run_id, updated_at`

// ReconcileFinding reads the finding stored under key, passes it (nil when absent)
// to fn, and writes back whatever fn returns, all in one transaction. A nil result
// from fn leaves the store untouched. The unique natural key guarantees at most
// one row per key even under concurrent writers.
func (db *DB) ReconcileFinding(ctx context.Context, key FindingKey, fn func(existing *CorrelationFinding) (*CorrelationFinding, error)) (*CorrelationFinding, error) {
	var out *CorrelationFinding

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT `+findingColumns+`
			FROM correlation_findings
			WHERE athlete_id = ? AND input_name = ? AND output_metric = ? AND lag_days = ?
		`, key.AthleteID, key.InputName, key.OutputMetric, key.LagDays)

		existing, err := scanFinding(row)
		if err != nil && !errors.Is(err, ErrFindingNotFound) {
			return err
		}

		next, err := fn(existing)
		if err != nil {
			return err
		}
		if next == nil {
			out = existing
			return nil
		}
		if next.Key() != key {
			return fmt.Errorf("reconcile changed natural key %+v -> %+v", key, next.Key())
		}

		if err := upsertFinding(ctx, tx, next); err != nil {
			return err
		}

		row = tx.QueryRowContext(ctx, `
			SELECT `+findingColumns+`
			FROM correlation_findings
			WHERE athlete_id = ? AND input_name = ? AND output_metric = ? AND lag_days = ?
		`, key.AthleteID, key.InputName, key.OutputMetric, key.LagDays)
		out, err = scanFinding(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func upsertFinding(ctx context.Context, tx *sql.Tx, f *CorrelationFinding) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO correlation_findings (
			athlete_id, input_name, output_metric, lag_days, correlation, p_value,
			sample_size, times_confirmed, is_active, confidence, last_surfaced_at,
			first_detected_at, last_confirmed_at, last_run_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id, input_name, output_metric, lag_days) DO UPDATE SET
			correlation = excluded.correlation,
			p_value = excluded.p_value,
			sample_size = excluded.sample_size,
			times_confirmed = excluded.times_confirmed,
			is_active = excluded.is_active,
			confidence = excluded.confidence,
			last_surfaced_at = excluded.last_surfaced_at,
			last_confirmed_at = excluded.last_confirmed_at,
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at
	`,
		f.AthleteID, f.InputName, f.OutputMetric, f.LagDays, f.Correlation, f.PValue,
		f.SampleSize, f.TimesConfirmed, boolToInt(f.IsActive), f.Confidence, formatTimePtr(f.LastSurfacedAt),
		f.FirstDetectedAt.UTC().Format(time.RFC3339), f.LastConfirmedAt.UTC().Format(time.RFC3339),
		f.LastRunID, f.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting finding: %w", err)
	}
	return nil
}

// GetFinding retrieves a finding by natural key
func (db *DB) GetFinding(ctx context.Context, key FindingKey) (*CorrelationFinding, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+findingColumns+`
		FROM correlation_findings
		WHERE athlete_id = ? AND input_name = ? AND output_metric = ? AND lag_days = ?
	`, key.AthleteID, key.InputName, key.OutputMetric, key.LagDays)
	return scanFinding(row)
}

// ListFindings returns an athlete's findings, optionally only active ones,
// strongest confidence first
func (db *DB) ListFindings(ctx context.Context, athleteID string, activeOnly bool) ([]CorrelationFinding, error) {
	query := `SELECT ` + findingColumns + ` FROM correlation_findings WHERE athlete_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY confidence DESC, input_name, output_metric, lag_days`

	rows, err := db.QueryContext(ctx, query, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []CorrelationFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, *f)
	}
	return findings, rows.Err()
}

// CountFindings returns the number of stored findings for an athlete
func (db *DB) CountFindings(ctx context.Context, athleteID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM correlation_findings WHERE athlete_id = ?
	`, athleteID).Scan(&n)
	return n, err
}

// MarkSurfaced stamps last_surfaced_at on a finding, starting its cooldown window
func (db *DB) MarkSurfaced(ctx context.Context, id int64, at time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE correlation_findings
		SET last_surfaced_at = ?, updated_at = ?
		WHERE id = ?
	`, at.UTC().Format(time.RFC3339), at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrFindingNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFinding(row rowScanner) (*CorrelationFinding, error) {
	var f CorrelationFinding
	var isActive int
	var lastSurfaced sql.NullString
	var firstDetected, lastConfirmed, updatedAt string

	err := row.Scan(
		&f.ID, &f.AthleteID, &f.InputName, &f.OutputMetric, &f.LagDays, &f.Correlation, &f.PValue,
		&f.SampleSize, &f.TimesConfirmed, &isActive, &f.Confidence, &lastSurfaced,
		&firstDetected, &lastConfirmed, &f.LastRunID, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFindingNotFound
	}
	if err != nil {
		return nil, err
	}

	f.IsActive = isActive == 1

	if lastSurfaced.Valid {
		t, err := time.Parse(time.RFC3339, lastSurfaced.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_surfaced_at %q: %w", lastSurfaced.String, err)
		}
		f.LastSurfacedAt = &t
	}
	if f.FirstDetectedAt, err = time.Parse(time.RFC3339, firstDetected); err != nil {
		return nil, fmt.Errorf("parsing first_detected_at %q: %w", firstDetected, err)
	}
	if f.LastConfirmedAt, err = time.Parse(time.RFC3339, lastConfirmed); err != nil {
		return nil, fmt.Errorf("parsing last_confirmed_at %q: %w", lastConfirmed, err)
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
	}

	return &f, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
