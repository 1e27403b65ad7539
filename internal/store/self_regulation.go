package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertSelfRegulation records planned vs actual for an athlete-day. Re-running
// the same day refreshes the numbers but keeps the original entry id.
func (db *DB) UpsertSelfRegulation(ctx context.Context, e *SelfRegulationEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO self_regulation_log (
			id, athlete_id, date, planned_stress, actual_stress, deviation,
			deviation_pct, direction, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id, date) DO UPDATE SET
			planned_stress = excluded.planned_stress,
			actual_stress = excluded.actual_stress,
			deviation = excluded.deviation,
			deviation_pct = excluded.deviation_pct,
			direction = excluded.direction,
			recorded_at = excluded.recorded_at
	`,
		e.ID, e.AthleteID, e.Date.Format(DateLayout), e.PlannedStress, e.ActualStress,
		e.Deviation, e.DeviationPct, e.Direction, e.RecordedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListSelfRegulation returns an athlete's entries in [from, to] ordered by date
func (db *DB) ListSelfRegulation(ctx context.Context, athleteID string, from, to time.Time) ([]SelfRegulationEntry, error) {
	lo, hi := dateRange(from, to)
	rows, err := db.QueryContext(ctx, `
		SELECT id, athlete_id, date, planned_stress, actual_stress, deviation,
			deviation_pct, direction, recorded_at
		FROM self_regulation_log
		WHERE athlete_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, athleteID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SelfRegulationEntry
	for rows.Next() {
		var e SelfRegulationEntry
		var date, recordedAt string
		var pct sql.NullFloat64

		if err := rows.Scan(
			&e.ID, &e.AthleteID, &date, &e.PlannedStress, &e.ActualStress, &e.Deviation,
			&pct, &e.Direction, &recordedAt,
		); err != nil {
			return nil, err
		}

		if e.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
		}
		if pct.Valid {
			v := pct.Float64
			e.DeviationPct = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
