package store

import (
	"database/sql"
	"fmt"
)

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// Training samples (append-only, one row per athlete-day)
		`CREATE TABLE IF NOT EXISTS training_samples (
			athlete_id TEXT NOT NULL,
			date TEXT NOT NULL,
			stress REAL NOT NULL CHECK (stress >= 0),
			ingested_at TEXT DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (athlete_id, date)
		)`,

		// Daily signal values, long format so absent fields have no row
		`CREATE TABLE IF NOT EXISTS signal_values (
			athlete_id TEXT NOT NULL,
			date TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('input', 'output')),
			name TEXT NOT NULL,
			value REAL NOT NULL,
			ingested_at TEXT DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (athlete_id, date, kind, name)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_signal_values_athlete_date ON signal_values(athlete_id, date)`,

		// Banister parameters (one row per athlete, last known good)
		`CREATE TABLE IF NOT EXISTS banister_params (
			athlete_id TEXT PRIMARY KEY,
			tau_fitness REAL NOT NULL CHECK (tau_fitness > 0),
			tau_fatigue REAL NOT NULL CHECK (tau_fatigue > 0),
			k_fitness REAL NOT NULL,
			k_fatigue REAL NOT NULL,
			performance_offset REAL NOT NULL DEFAULT 0,
			confidence TEXT NOT NULL,
			is_default INTEGER NOT NULL,
			source TEXT NOT NULL,
			fit_r2 REAL,
			samples_used INTEGER NOT NULL,
			history_days INTEGER NOT NULL,
			calibrated_at TEXT NOT NULL
		)`,

		// Load trajectories, one per athlete and event date
		`CREATE TABLE IF NOT EXISTS trajectories (
			athlete_id TEXT NOT NULL,
			event_date TEXT NOT NULL,
			generated_at TEXT NOT NULL,
			taper_days INTEGER NOT NULL,
			adapter_tier TEXT NOT NULL,
			maintenance_only INTEGER NOT NULL,
			projected_performance REAL NOT NULL,
			projected_form REAL NOT NULL,
			PRIMARY KEY (athlete_id, event_date)
		)`,

		`CREATE TABLE IF NOT EXISTS trajectory_points (
			athlete_id TEXT NOT NULL,
			event_date TEXT NOT NULL,
			date TEXT NOT NULL,
			target_stress REAL NOT NULL,
			fitness REAL NOT NULL,
			fatigue REAL NOT NULL,
			form REAL NOT NULL,
			phase TEXT NOT NULL,
			PRIMARY KEY (athlete_id, event_date, date),
			FOREIGN KEY (athlete_id, event_date) REFERENCES trajectories(athlete_id, event_date) ON DELETE CASCADE
		)`,

		// Correlation findings, unique on the natural key
		`CREATE TABLE IF NOT EXISTS correlation_findings (
			id INTEGER PRIMARY KEY,
			athlete_id TEXT NOT NULL,
			input_name TEXT NOT NULL,
			output_metric TEXT NOT NULL,
			lag_days INTEGER NOT NULL,
			correlation REAL NOT NULL,
			p_value REAL NOT NULL,
			sample_size INTEGER NOT NULL,
			times_confirmed INTEGER NOT NULL CHECK (times_confirmed >= 1),
			is_active INTEGER NOT NULL,
			confidence REAL NOT NULL CHECK (confidence <= 1.0),
			last_surfaced_at TEXT,
			first_detected_at TEXT NOT NULL,
			last_confirmed_at TEXT NOT NULL,
			last_run_id TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (athlete_id, input_name, output_metric, lag_days)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_findings_athlete_active ON correlation_findings(athlete_id, is_active)`,

		// Self-regulation log (planned vs actual)
		`CREATE TABLE IF NOT EXISTS self_regulation_log (
			id TEXT PRIMARY KEY,
			athlete_id TEXT NOT NULL,
			date TEXT NOT NULL,
			planned_stress REAL NOT NULL,
			actual_stress REAL NOT NULL,
			deviation REAL NOT NULL,
			deviation_pct REAL,
			direction TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			UNIQUE (athlete_id, date)
		)`,

		// Best efforts, one per athlete and distance category
		`CREATE TABLE IF NOT EXISTS best_efforts (
			athlete_id TEXT NOT NULL,
			category TEXT NOT NULL,
			distance_meters REAL NOT NULL,
			duration_seconds INTEGER NOT NULL CHECK (duration_seconds > 0),
			avg_heartrate REAL,
			achieved_on TEXT NOT NULL,
			PRIMARY KEY (athlete_id, category)
		)`,

		// Run state (key-value bookkeeping for scheduled runs)
		`CREATE TABLE IF NOT EXISTS run_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	// Columns added after the first release
	columns := []struct{ table, name, decl string }{
		{"trajectories", "params_default", "INTEGER NOT NULL DEFAULT 0"},
		{"trajectories", "params_confidence", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, c := range columns {
		if err := addColumn(db, c.table, c.name, c.decl); err != nil {
			return err
		}
	}

	return nil
}

func addColumn(db *sql.DB, table, name, decl string) error {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, name).Scan(&n); err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, decl)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, name, err)
	}
	return nil
}
