package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordBestEffort keeps the faster of e and the stored effort for its
// category. previous is the record e was compared against, nil when e is the
// first effort in its category.
func (db *DB) RecordBestEffort(ctx context.Context, e BestEffort) (improved bool, previous *BestEffort, err error) {
	if e.DurationSeconds <= 0 {
		return false, nil, fmt.Errorf("invalid duration %d for %s", e.DurationSeconds, e.Category)
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT athlete_id, category, distance_meters, duration_seconds, avg_heartrate, achieved_on
			FROM best_efforts
			WHERE athlete_id = ? AND category = ?
		`, e.AthleteID, e.Category)

		existing, err := scanBestEffort(row)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		previous = existing

		// ties keep the earlier record
		if existing != nil && existing.DurationSeconds <= e.DurationSeconds {
			return nil
		}

		var hr any
		if e.AvgHeartRate > 0 {
			hr = e.AvgHeartRate
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO best_efforts (
				athlete_id, category, distance_meters, duration_seconds, avg_heartrate, achieved_on
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(athlete_id, category) DO UPDATE SET
				distance_meters = excluded.distance_meters,
				duration_seconds = excluded.duration_seconds,
				avg_heartrate = excluded.avg_heartrate,
				achieved_on = excluded.achieved_on
		`,
			e.AthleteID, e.Category, e.DistanceMeters, e.DurationSeconds, hr, e.AchievedOn.Format(DateLayout),
		)
		if err != nil {
			return fmt.Errorf("storing best effort %s: %w", e.Category, err)
		}
		improved = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return improved, previous, nil
}

// ListBestEfforts returns an athlete's best efforts, shortest distance first
func (db *DB) ListBestEfforts(ctx context.Context, athleteID string) ([]BestEffort, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT athlete_id, category, distance_meters, duration_seconds, avg_heartrate, achieved_on
		FROM best_efforts
		WHERE athlete_id = ?
		ORDER BY distance_meters, category
	`, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BestEffort
	for rows.Next() {
		e, err := scanBestEffort(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanBestEffort(row rowScanner) (*BestEffort, error) {
	var e BestEffort
	var hr sql.NullFloat64
	var achieved string
	if err := row.Scan(&e.AthleteID, &e.Category, &e.DistanceMeters, &e.DurationSeconds, &hr, &achieved); err != nil {
		return nil, err
	}
	e.AvgHeartRate = hr.Float64

	var err error
	if e.AchievedOn, err = parseDate(achieved); err != nil {
		return nil, err
	}
	return &e, nil
}
