package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

const (
	minDateKey = "0000-01-01"
	maxDateKey = "9999-12-31"
)

// dateRange converts optional bounds to inclusive date keys
func dateRange(from, to time.Time) (string, string) {
	lo, hi := minDateKey, maxDateKey
	if !from.IsZero() {
		lo = from.Format(DateLayout)
	}
	if !to.IsZero() {
		hi = to.Format(DateLayout)
	}
	return lo, hi
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// AddTrainingSample appends a training sample. Re-sending an existing
// athlete-day returns ErrDuplicateSample and leaves the stored row untouched.
func (db *DB) AddTrainingSample(ctx context.Context, s TrainingSample) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO training_samples (athlete_id, date, stress)
		VALUES (?, ?, ?)
		ON CONFLICT(athlete_id, date) DO NOTHING
	`, s.AthleteID, s.Date.Format(DateLayout), s.Stress)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicateSample
	}
	return nil
}

// ListTrainingSamples returns an athlete's samples in [from, to] ordered by date.
// Zero bounds are open.
func (db *DB) ListTrainingSamples(ctx context.Context, athleteID string, from, to time.Time) ([]TrainingSample, error) {
	lo, hi := dateRange(from, to)
	rows, err := db.QueryContext(ctx, `
		SELECT athlete_id, date, stress
		FROM training_samples
		WHERE athlete_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, athleteID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []TrainingSample
	for rows.Next() {
		var s TrainingSample
		var date string
		if err := rows.Scan(&s.AthleteID, &date, &s.Stress); err != nil {
			return nil, err
		}
		if s.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// CountTrainingSamples returns how many training days an athlete has ingested
func (db *DB) CountTrainingSamples(ctx context.Context, athleteID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM training_samples WHERE athlete_id = ?
	`, athleteID).Scan(&n)
	return n, err
}

// AddSignalSample appends the recorded fields of a daily check-in. Fields already
// stored for that athlete-day are kept as-is; if nothing new was recorded the call
// returns ErrDuplicateSample.
func (db *DB) AddSignalSample(ctx context.Context, s SignalSample) error {
	if len(s.Inputs) == 0 && len(s.Outputs) == 0 {
		return nil
	}

	date := s.Date.Format(DateLayout)
	var inserted int64

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO signal_values (athlete_id, date, kind, name, value)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(athlete_id, date, kind, name) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		insert := func(kind string, values map[string]float64) error {
			for _, name := range sortedKeys(values) {
				result, err := stmt.ExecContext(ctx, s.AthleteID, date, kind, name, values[name])
				if err != nil {
					return fmt.Errorf("inserting %s %q: %w", kind, name, err)
				}
				n, err := result.RowsAffected()
				if err != nil {
					return err
				}
				inserted += n
			}
			return nil
		}

		if err := insert("input", s.Inputs); err != nil {
			return err
		}
		return insert("output", s.Outputs)
	})
	if err != nil {
		return err
	}

	if inserted == 0 {
		return ErrDuplicateSample
	}
	return nil
}

// ListSignalSamples returns an athlete's check-ins in [from, to] ordered by date.
// Days with no recorded fields are omitted.
func (db *DB) ListSignalSamples(ctx context.Context, athleteID string, from, to time.Time) ([]SignalSample, error) {
	lo, hi := dateRange(from, to)
	rows, err := db.QueryContext(ctx, `
		SELECT date, kind, name, value
		FROM signal_values
		WHERE athlete_id = ? AND date >= ? AND date <= ?
		ORDER BY date, kind, name
	`, athleteID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []SignalSample
	var current *SignalSample
	var currentKey string

	for rows.Next() {
		var date, kind, name string
		var value float64
		if err := rows.Scan(&date, &kind, &name, &value); err != nil {
			return nil, err
		}

		if current == nil || date != currentKey {
			d, err := parseDate(date)
			if err != nil {
				return nil, err
			}
			samples = append(samples, SignalSample{
				AthleteID: athleteID,
				Date:      d,
				Inputs:    make(map[string]float64),
				Outputs:   make(map[string]float64),
			})
			current = &samples[len(samples)-1]
			currentKey = date
		}

		if kind == "input" {
			current.Inputs[name] = value
		} else {
			current.Outputs[name] = value
		}
	}

	return samples, rows.Err()
}

// ListAthletes returns every athlete id with ingested data
func (db *DB) ListAthletes(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT athlete_id FROM training_samples
		UNION
		SELECT athlete_id FROM signal_values
		ORDER BY athlete_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
