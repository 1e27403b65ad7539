// Package config holds engine configuration. Every analytical threshold lives in
// Tuning so it can be overridden per athlete; nothing here is a universal constant.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Redis    RedisConfig    `koanf:"redis"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Tuning   Tuning         `koanf:"tuning"`

	// raw layered values, used to resolve athletes.<id> overrides
	k *koanf.Koanf
	// programmatic per-athlete tuning, takes precedence over file overrides
	athleteTuning map[string]Tuning
}

// StoreConfig locates the SQLite database
type StoreConfig struct {
	Path string `koanf:"path"` // empty = ~/.adaptive-training/data.db
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Addr      string `koanf:"addr"` // empty disables the endpoint
	Namespace string `koanf:"namespace" validate:"required"`
}

// RedisConfig enables the cross-process athlete lock
type RedisConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Addr        string `koanf:"addr" validate:"required_if=Enabled true"`
	Password    string `koanf:"password"`
	DB          int    `koanf:"db" validate:"gte=0"`
	LockTTLSecs int    `koanf:"lock_ttl_secs" validate:"gt=0"`
}

// ScheduleConfig holds cron specs (seconds field first) for periodic runs
type ScheduleConfig struct {
	Recalibration string `koanf:"recalibration" validate:"required"`
	Correlation   string `koanf:"correlation" validate:"required"`
	Adaptation    string `koanf:"adaptation" validate:"required"`
	Concurrency   int    `koanf:"concurrency" validate:"gt=0"`
}

// Tuning holds every per-athlete tunable threshold
type Tuning struct {
	Model       ModelTuning       `koanf:"model"`
	Taper       TaperTuning       `koanf:"taper"`
	Plan        PlanTuning        `koanf:"plan"`
	Correlation CorrelationTuning `koanf:"correlation"`
	Persistence PersistenceTuning `koanf:"persistence"`
	Readiness   ReadinessTuning   `koanf:"readiness"`
	Rules       RulesTuning       `koanf:"rules"`
	Session     SessionTuning     `koanf:"session"`
}

// TierThreshold is the minimum evidence for a confidence tier
type TierThreshold struct {
	MinSpanDays int     `koanf:"min_span_days" validate:"gt=0"`
	MinDensity  float64 `koanf:"min_density" validate:"gte=0,lte=1"`
	MinMarkers  int     `koanf:"min_markers" validate:"gt=0"`
	MinR2       float64 `koanf:"min_r2" validate:"gte=0,lte=1"`
}

// ModelTuning configures impulse-response calibration
type ModelTuning struct {
	PerformanceMetric string `koanf:"performance_metric" validate:"required"`
	InvertPerformance bool   `koanf:"invert_performance"` // true when lower marker values are better

	MinHistoryDays int `koanf:"min_history_days" validate:"gt=0"`
	MinMarkers     int `koanf:"min_markers" validate:"gt=2"`

	Low      TierThreshold `koanf:"low"`
	Moderate TierThreshold `koanf:"moderate"`
	High     TierThreshold `koanf:"high"`

	// Conservative population defaults, always tagged as defaults
	DefaultTauFitness float64 `koanf:"default_tau_fitness" validate:"gt=0"`
	DefaultTauFatigue float64 `koanf:"default_tau_fatigue" validate:"gt=0"`
	DefaultKFitness   float64 `koanf:"default_k_fitness" validate:"gt=0"`
	DefaultKFatigue   float64 `koanf:"default_k_fatigue" validate:"gt=0"`

	TauFitnessMin float64 `koanf:"tau_fitness_min" validate:"gt=0"`
	TauFitnessMax float64 `koanf:"tau_fitness_max" validate:"gtfield=TauFitnessMin"`
	TauFatigueMin float64 `koanf:"tau_fatigue_min" validate:"gt=0"`
	TauFatigueMax float64 `koanf:"tau_fatigue_max" validate:"gtfield=TauFatigueMin"`

	MaxEvaluations int `koanf:"max_evaluations" validate:"gt=0"`

	RecalibrateAfterSamples int `koanf:"recalibrate_after_samples" validate:"gt=0"`
	RecalibrateAfterDays    int `koanf:"recalibrate_after_days" validate:"gt=0"`
}

// TaperTier bounds the taper for one adapter tier
type TaperTier struct {
	Multiplier float64 `koanf:"multiplier" validate:"gt=0"`
	MinDays    int     `koanf:"min_days" validate:"gt=0"`
	MaxDays    int     `koanf:"max_days" validate:"gtefield=MinDays"`
}

// TaperTuning buckets athletes by tau_fitness
type TaperTuning struct {
	FastBelow float64   `koanf:"fast_below" validate:"gt=0"`
	SlowFrom  float64   `koanf:"slow_from" validate:"gtfield=FastBelow"`
	Fast      TaperTier `koanf:"fast"`
	Standard  TaperTier `koanf:"standard"`
	Slow      TaperTier `koanf:"slow"`
}

// PlanTuning constrains trajectory generation
type PlanTuning struct {
	MinBuildDays           int       `koanf:"min_build_days" validate:"gt=0"`
	MaxWeeklyIncrease      float64   `koanf:"max_weekly_increase" validate:"gte=0,lte=0.5"`
	GrowthStep             float64   `koanf:"growth_step" validate:"gt=0"`
	MaxPeakMultiplier      float64   `koanf:"max_peak_multiplier" validate:"gte=1"`
	TaperDepths            []float64 `koanf:"taper_depths" validate:"min=1,dive,gt=0,lte=1"`
	BaselineWindowDays     int       `koanf:"baseline_window_days" validate:"gt=0"`
	MinBaselineDailyStress float64   `koanf:"min_baseline_daily_stress" validate:"gte=0"`
}

// CorrelationTuning configures the significance gate
type CorrelationTuning struct {
	MinSamples int      `koanf:"min_samples" validate:"gt=2"`
	MinEffect  float64  `koanf:"min_effect" validate:"gt=0,lt=1"`
	Alpha      float64  `koanf:"alpha" validate:"gt=0,lt=1"`
	Lags       []int    `koanf:"lags" validate:"min=1,dive,gte=0"`
	Outputs    []string `koanf:"outputs" validate:"min=1"`
	WindowDays int      `koanf:"window_days" validate:"gt=0"`
	// Metric polarity registrations layered over the built-in registry
	Metrics map[string]string `koanf:"metrics" validate:"dive,oneof=higher_is_better lower_is_better ambiguous"`
}

// PersistenceTuning governs reproducibility and surfacing
type PersistenceTuning struct {
	ReproducibilityThreshold int     `koanf:"reproducibility_threshold" validate:"gt=0"`
	CooldownDays             int     `koanf:"cooldown_days" validate:"gte=0"`
	BoostStep                float64 `koanf:"boost_step" validate:"gte=0"`
	Retries                  int     `koanf:"retries" validate:"gte=0"`
}

// ReadinessTuning weights the composite readiness score
type ReadinessTuning struct {
	MinCheckinDays     int     `koanf:"min_checkin_days" validate:"gt=0"`
	ObjectiveWeight    float64 `koanf:"objective_weight" validate:"gt=0"`
	SubjectiveWeight   float64 `koanf:"subjective_weight" validate:"gte=0"`
	BaselineWindowDays int     `koanf:"baseline_window_days" validate:"gt=0"`
	MinFitness         float64 `koanf:"min_fitness" validate:"gt=0"`
}

// RulesTuning holds adaptation rule thresholds and bounds
type RulesTuning struct {
	MinHistoryDays int `koanf:"min_history_days" validate:"gt=0"`

	OverloadACWR          float64 `koanf:"overload_acwr" validate:"gt=1"`
	OverloadFormRatio     float64 `koanf:"overload_form_ratio" validate:"lt=0"`
	OverloadReduction     float64 `koanf:"overload_reduction" validate:"gt=0,lt=1"`
	OverloadMaxDaily      int     `koanf:"overload_max_daily" validate:"gte=0"`
	LowReadinessScore     float64 `koanf:"low_readiness_score" validate:"gt=0,lt=100"`
	LowReadinessReduction float64 `koanf:"low_readiness_reduction" validate:"gt=0,lt=1"`
	LowReadinessMaxDaily  int     `koanf:"low_readiness_max_daily" validate:"gte=0"`

	UnderloadRatio    float64 `koanf:"underload_ratio" validate:"gt=0,lt=1"`
	DetrainingDrop    float64 `koanf:"detraining_drop" validate:"gt=0,lt=1"`
	DetrainingDays    int     `koanf:"detraining_days" validate:"gt=0"`
	UnderloadIncrease float64 `koanf:"underload_increase" validate:"gt=0"`
	UnderloadMaxDaily int     `koanf:"underload_max_daily" validate:"gte=0"`

	AdherenceDeviationPct float64 `koanf:"adherence_deviation_pct" validate:"gt=0"`
	AdherenceMinDays      int     `koanf:"adherence_min_days" validate:"gt=0"`
	AdherenceWindowDays   int     `koanf:"adherence_window_days" validate:"gtefield=AdherenceMinDays"`
	AdherenceMaxDaily     int     `koanf:"adherence_max_daily" validate:"gte=0"`

	MaxInsightsPerDay int `koanf:"max_insights_per_day" validate:"gte=0"`

	MaxReduction float64 `koanf:"max_reduction" validate:"gt=0,lt=1"`
	MaxIncrease  float64 `koanf:"max_increase" validate:"gte=0"`
}

// SessionTuning configures deriving stress and outputs from recorded sessions
type SessionTuning struct {
	RestingHR            float64 `koanf:"resting_hr" validate:"gt=0"`
	MaxHR                float64 `koanf:"max_hr" validate:"gtfield=RestingHR"`
	EffortReserve        float64 `koanf:"effort_reserve" validate:"gt=0,lt=1"` // heart rate reserve fraction for pace_at_effort
	EffortTolerance      float64 `koanf:"effort_tolerance" validate:"gt=0"`    // bpm
	MinEffortSeconds     int     `koanf:"min_effort_seconds" validate:"gt=0"`
	MinDecouplingSeconds int     `koanf:"min_decoupling_seconds" validate:"gt=0"`
}

// ErrNoConfig is returned when an explicitly requested config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{
			Namespace: "adaptive_training",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			LockTTLSecs: 120,
		},
		Schedule: ScheduleConfig{
			Recalibration: "0 0 3 * * *",
			Correlation:   "0 30 3 * * *",
			Adaptation:    "0 0 5 * * *",
			Concurrency:   4,
		},
		Tuning: DefaultTuning(),
	}
}

// DefaultTuning returns the illustrative default thresholds
func DefaultTuning() Tuning {
	return Tuning{
		Model: ModelTuning{
			PerformanceMetric:       "efficiency",
			MinHistoryDays:          42,
			MinMarkers:              10,
			Low:                     TierThreshold{MinSpanDays: 42, MinDensity: 0.2, MinMarkers: 10, MinR2: 0.0},
			Moderate:                TierThreshold{MinSpanDays: 120, MinDensity: 0.4, MinMarkers: 25, MinR2: 0.3},
			High:                    TierThreshold{MinSpanDays: 300, MinDensity: 0.5, MinMarkers: 50, MinR2: 0.5},
			DefaultTauFitness:       42,
			DefaultTauFatigue:       7,
			DefaultKFitness:         1,
			DefaultKFatigue:         2,
			TauFitnessMin:           7,
			TauFitnessMax:           90,
			TauFatigueMin:           1,
			TauFatigueMax:           30,
			MaxEvaluations:          4000,
			RecalibrateAfterSamples: 14,
			RecalibrateAfterDays:    7,
		},
		Taper: TaperTuning{
			FastBelow: 30,
			SlowFrom:  50,
			Fast:      TaperTier{Multiplier: 1.5, MinDays: 7, MaxDays: 14},
			Standard:  TaperTier{Multiplier: 2.0, MinDays: 10, MaxDays: 17},
			Slow:      TaperTier{Multiplier: 2.5, MinDays: 14, MaxDays: 21},
		},
		Plan: PlanTuning{
			MinBuildDays:           21,
			MaxWeeklyIncrease:      0.10,
			GrowthStep:             0.01,
			MaxPeakMultiplier:      1.5,
			TaperDepths:            []float64{0.3, 0.4, 0.5, 0.6, 0.7},
			BaselineWindowDays:     28,
			MinBaselineDailyStress: 20,
		},
		Correlation: CorrelationTuning{
			MinSamples: 10,
			MinEffect:  0.3,
			Alpha:      0.05,
			Lags:       []int{0, 1, 2, 3, 4, 5, 6, 7},
			Outputs:    []string{"efficiency", "pace_at_effort", "completion", "personal_best"},
			WindowDays: 90,
		},
		Persistence: PersistenceTuning{
			ReproducibilityThreshold: 3,
			CooldownDays:             14,
			BoostStep:                0.1,
			Retries:                  2,
		},
		Readiness: ReadinessTuning{
			MinCheckinDays:     14,
			ObjectiveWeight:    1.0,
			SubjectiveWeight:   0.5,
			BaselineWindowDays: 28,
			MinFitness:         10,
		},
		Rules: RulesTuning{
			MinHistoryDays:        14,
			OverloadACWR:          1.5,
			OverloadFormRatio:     -0.3,
			OverloadReduction:     0.3,
			OverloadMaxDaily:      1,
			LowReadinessScore:     35,
			LowReadinessReduction: 0.2,
			LowReadinessMaxDaily:  1,
			UnderloadRatio:        0.6,
			DetrainingDrop:        0.10,
			DetrainingDays:        14,
			UnderloadIncrease:     0.1,
			UnderloadMaxDaily:     1,
			AdherenceDeviationPct: 0.2,
			AdherenceMinDays:      3,
			AdherenceWindowDays:   7,
			AdherenceMaxDaily:     1,
			MaxInsightsPerDay:     2,
			MaxReduction:          0.4,
			MaxIncrease:           0.1,
		},
		Session: SessionTuning{
			RestingHR:            50,
			MaxHR:                185,
			EffortReserve:        0.7,
			EffortTolerance:      5,
			MinEffortSeconds:     30,
			MinDecouplingSeconds: 120,
		},
	}
}

// TuningFor returns the thresholds for one athlete: the global tuning with any
// athletes.<id> overrides applied on top.
func (c *Config) TuningFor(athleteID string) (Tuning, error) {
	if t, ok := c.athleteTuning[athleteID]; ok {
		return t, nil
	}

	t := c.Tuning.clone()
	if c.k == nil {
		return t, nil
	}

	path := "athletes." + athleteID
	if !c.k.Exists(path) {
		return t, nil
	}
	resetListOverrides(c.k, path, &t)
	if err := c.k.UnmarshalWithConf(path, &t, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Tuning{}, fmt.Errorf("decoding overrides for athlete %q: %w", athleteID, err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, fmt.Errorf("overrides for athlete %q: %w", athleteID, err)
	}
	return t, nil
}

// SetAthleteTuning pins a complete tuning for one athlete
func (c *Config) SetAthleteTuning(athleteID string, t Tuning) {
	if c.athleteTuning == nil {
		c.athleteTuning = make(map[string]Tuning)
	}
	c.athleteTuning[athleteID] = t
}

func (t Tuning) clone() Tuning {
	out := t
	out.Plan.TaperDepths = slices.Clone(t.Plan.TaperDepths)
	out.Correlation.Lags = slices.Clone(t.Correlation.Lags)
	out.Correlation.Outputs = slices.Clone(t.Correlation.Outputs)
	out.Correlation.Metrics = maps.Clone(t.Correlation.Metrics)
	return out
}

// Validate checks field constraints and cross-field invariants
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Tuning.Validate()
}

// Validate checks the invariants validator tags can't express
func (t *Tuning) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		return fmt.Errorf("invalid tuning: %w", err)
	}

	m := t.Model
	if m.Low.MinSpanDays > m.Moderate.MinSpanDays || m.Moderate.MinSpanDays > m.High.MinSpanDays {
		return errors.New("model tiers must require non-decreasing history span (low <= moderate <= high)")
	}
	if m.Low.MinMarkers > m.Moderate.MinMarkers || m.Moderate.MinMarkers > m.High.MinMarkers {
		return errors.New("model tiers must require non-decreasing marker counts (low <= moderate <= high)")
	}
	if m.Low.MinR2 > m.Moderate.MinR2 || m.Moderate.MinR2 > m.High.MinR2 {
		return errors.New("model tiers must require non-decreasing fit quality (low <= moderate <= high)")
	}
	if m.DefaultTauFitness <= m.DefaultTauFatigue {
		return fmt.Errorf("model.default_tau_fitness (%v) must exceed model.default_tau_fatigue (%v)", m.DefaultTauFitness, m.DefaultTauFatigue)
	}

	if t.Taper.Fast.MaxDays > t.Taper.Slow.MaxDays {
		return fmt.Errorf("taper.fast.max_days (%d) must not exceed taper.slow.max_days (%d)", t.Taper.Fast.MaxDays, t.Taper.Slow.MaxDays)
	}
	return nil
}
