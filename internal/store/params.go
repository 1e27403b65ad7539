package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveBanisterParams inserts or replaces an athlete's model parameters
func (db *DB) SaveBanisterParams(ctx context.Context, p *BanisterParams) error {
	if p.TauFitness <= 0 || p.TauFatigue <= 0 {
		return fmt.Errorf("invalid time constants %.2f/%.2f: must be positive", p.TauFitness, p.TauFatigue)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO banister_params (
			athlete_id, tau_fitness, tau_fatigue, k_fitness, k_fatigue, performance_offset,
			confidence, is_default, source, fit_r2, samples_used, history_days, calibrated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			tau_fitness = excluded.tau_fitness,
			tau_fatigue = excluded.tau_fatigue,
			k_fitness = excluded.k_fitness,
			k_fatigue = excluded.k_fatigue,
			performance_offset = excluded.performance_offset,
			confidence = excluded.confidence,
			is_default = excluded.is_default,
			source = excluded.source,
			fit_r2 = excluded.fit_r2,
			samples_used = excluded.samples_used,
			history_days = excluded.history_days,
			calibrated_at = excluded.calibrated_at
	`,
		p.AthleteID, p.TauFitness, p.TauFatigue, p.KFitness, p.KFatigue, p.Offset,
		string(p.Confidence), boolToInt(p.IsDefault), p.Source, p.FitR2,
		p.SamplesUsed, p.HistoryDays, p.CalibratedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetBanisterParams retrieves an athlete's stored parameters
func (db *DB) GetBanisterParams(ctx context.Context, athleteID string) (*BanisterParams, error) {
	row := db.QueryRowContext(ctx, `
		SELECT athlete_id, tau_fitness, tau_fatigue, k_fitness, k_fatigue, performance_offset,
			confidence, is_default, source, fit_r2, samples_used, history_days, calibrated_at
		FROM banister_params
		WHERE athlete_id = ?
	`, athleteID)

	var p BanisterParams
	var confidence, calibratedAt string
	var isDefault int
	var fitR2 sql.NullFloat64

	err := row.Scan(
		&p.AthleteID, &p.TauFitness, &p.TauFatigue, &p.KFitness, &p.KFatigue, &p.Offset,
		&confidence, &isDefault, &p.Source, &fitR2, &p.SamplesUsed, &p.HistoryDays, &calibratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrParamsNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Confidence = Confidence(confidence)
	p.IsDefault = isDefault == 1
	if fitR2.Valid {
		v := fitR2.Float64
		p.FitR2 = &v
	}

	p.CalibratedAt, err = time.Parse(time.RFC3339, calibratedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing calibrated_at %q: %w", calibratedAt, err)
	}

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
