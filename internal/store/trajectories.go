package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReplaceTrajectory stores a trajectory, atomically discarding any previous plan
// for the same athlete and event date.
func (db *DB) ReplaceTrajectory(ctx context.Context, t *Trajectory) error {
	event := t.EventDate.Format(DateLayout)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		// Points cascade
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM trajectories WHERE athlete_id = ? AND event_date = ?
		`, t.AthleteID, event); err != nil {
			return fmt.Errorf("deleting previous trajectory: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trajectories (
				athlete_id, event_date, generated_at, taper_days, adapter_tier,
				maintenance_only, projected_performance, projected_form,
				params_default, params_confidence
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.AthleteID, event, t.GeneratedAt.UTC().Format(time.RFC3339), t.TaperDays, t.AdapterTier,
			boolToInt(t.MaintenanceOnly), t.ProjectedPerformance, t.ProjectedForm,
			boolToInt(t.ParamsDefault), string(t.ParamsConfidence),
		); err != nil {
			return fmt.Errorf("inserting trajectory: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trajectory_points (
				athlete_id, event_date, date, target_stress, fitness, fatigue, form, phase
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range t.Points {
			if _, err := stmt.ExecContext(ctx,
				t.AthleteID, event, p.Date.Format(DateLayout), p.TargetStress,
				p.Fitness, p.Fatigue, p.Form, string(p.Phase),
			); err != nil {
				return fmt.Errorf("inserting point %s: %w", p.Date.Format(DateLayout), err)
			}
		}
		return nil
	})
}

// GetTrajectory retrieves the plan for one event
func (db *DB) GetTrajectory(ctx context.Context, athleteID string, eventDate time.Time) (*Trajectory, error) {
	row := db.QueryRowContext(ctx, `
		SELECT athlete_id, event_date, generated_at, taper_days, adapter_tier,
			maintenance_only, projected_performance, projected_form,
			params_default, params_confidence
		FROM trajectories
		WHERE athlete_id = ? AND event_date = ?
	`, athleteID, eventDate.Format(DateLayout))

	return db.loadTrajectory(ctx, row)
}

// GetUpcomingTrajectory retrieves the plan for the nearest event on or after date
func (db *DB) GetUpcomingTrajectory(ctx context.Context, athleteID string, date time.Time) (*Trajectory, error) {
	row := db.QueryRowContext(ctx, `
		SELECT athlete_id, event_date, generated_at, taper_days, adapter_tier,
			maintenance_only, projected_performance, projected_form,
			params_default, params_confidence
		FROM trajectories
		WHERE athlete_id = ? AND event_date >= ?
		ORDER BY event_date
		LIMIT 1
	`, athleteID, date.Format(DateLayout))

	return db.loadTrajectory(ctx, row)
}

// ListTrajectoryEvents returns the event dates an athlete has plans for
func (db *DB) ListTrajectoryEvents(ctx context.Context, athleteID string) ([]time.Time, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT event_date FROM trajectories WHERE athlete_id = ? ORDER BY event_date
	`, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		d, err := parseDate(s)
		if err != nil {
			return nil, err
		}
		events = append(events, d)
	}
	return events, rows.Err()
}

func (db *DB) loadTrajectory(ctx context.Context, row *sql.Row) (*Trajectory, error) {
	var t Trajectory
	var event, generatedAt string
	var maintenance, paramsDefault int
	var confidence string

	err := row.Scan(
		&t.AthleteID, &event, &generatedAt, &t.TaperDays, &t.AdapterTier,
		&maintenance, &t.ProjectedPerformance, &t.ProjectedForm,
		&paramsDefault, &confidence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTrajectoryNotFound
	}
	if err != nil {
		return nil, err
	}

	if t.EventDate, err = parseDate(event); err != nil {
		return nil, err
	}
	if t.GeneratedAt, err = time.Parse(time.RFC3339, generatedAt); err != nil {
		return nil, fmt.Errorf("parsing generated_at %q: %w", generatedAt, err)
	}
	t.MaintenanceOnly = maintenance == 1
	t.ParamsDefault = paramsDefault == 1
	t.ParamsConfidence = Confidence(confidence)

	rows, err := db.QueryContext(ctx, `
		SELECT date, target_stress, fitness, fatigue, form, phase
		FROM trajectory_points
		WHERE athlete_id = ? AND event_date = ?
		ORDER BY date
	`, t.AthleteID, event)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p TrajectoryPoint
		var date, phase string
		if err := rows.Scan(&date, &p.TargetStress, &p.Fitness, &p.Fatigue, &p.Form, &phase); err != nil {
			return nil, err
		}
		if p.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		p.Phase = Phase(phase)
		t.Points = append(t.Points, p)
	}

	return &t, rows.Err()
}
