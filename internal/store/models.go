package store

import "time"

// DateLayout is the on-disk representation of calendar days
const DateLayout = "2006-01-02"

// TrainingSample is one calendar day of training for an athlete
type TrainingSample struct {
	AthleteID string    `db:"athlete_id" json:"athlete_id"`
	Date      time.Time `db:"date" json:"date"`
	Stress    float64   `db:"stress" json:"stress"` // training stress, derived upstream from duration/intensity
}

// SignalSample bundles the named inputs and outputs recorded for one athlete-day.
// Absent names are absent, never zero.
type SignalSample struct {
	AthleteID string             `json:"athlete_id"`
	Date      time.Time          `json:"date"`
	Inputs    map[string]float64 `json:"inputs,omitempty"`  // sleep_hours, stress, soreness, resting_hr...
	Outputs   map[string]float64 `json:"outputs,omitempty"` // efficiency, pace_at_effort, completion...
}

// Input returns an input value and whether it was recorded
func (s SignalSample) Input(name string) (float64, bool) {
	v, ok := s.Inputs[name]
	return v, ok
}

// Output returns an output value and whether it was recorded
func (s SignalSample) Output(name string) (float64, bool) {
	v, ok := s.Outputs[name]
	return v, ok
}

// Confidence tiers for calibrated model parameters
type Confidence string

const (
	ConfidenceUncalibrated Confidence = "uncalibrated"
	ConfidenceLow          Confidence = "low"
	ConfidenceModerate     Confidence = "moderate"
	ConfidenceHigh         Confidence = "high"
)

// Rank orders tiers so callers can compare them
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceModerate:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// Parameter sources
const (
	SourceFitted            = "fitted"
	SourcePrevious          = "previous"
	SourcePopulationDefault = "population_default"
)

// BanisterParams is an athlete's calibrated impulse-response model
type BanisterParams struct {
	AthleteID    string     `db:"athlete_id" json:"athlete_id"`
	TauFitness   float64    `db:"tau_fitness" json:"tau_fitness"` // days
	TauFatigue   float64    `db:"tau_fatigue" json:"tau_fatigue"` // days
	KFitness     float64    `db:"k_fitness" json:"k_fitness"`
	KFatigue     float64    `db:"k_fatigue" json:"k_fatigue"`
	Offset       float64    `db:"performance_offset" json:"performance_offset"`
	Confidence   Confidence `db:"confidence" json:"confidence"`
	IsDefault    bool       `db:"is_default" json:"is_default"` // population defaults, never individualized
	Source       string     `db:"source" json:"source"`
	FitR2        *float64   `db:"fit_r2" json:"fit_r2,omitempty"` // nil when not fitted
	SamplesUsed  int        `db:"samples_used" json:"samples_used"`
	HistoryDays  int        `db:"history_days" json:"history_days"`
	CalibratedAt time.Time  `db:"calibrated_at" json:"calibrated_at"`
}

// Phase labels a trajectory day
type Phase string

const (
	PhaseBase        Phase = "base"
	PhaseBuild       Phase = "build"
	PhasePeak        Phase = "peak"
	PhaseTaper       Phase = "taper"
	PhaseMaintenance Phase = "maintenance"
)

// TrajectoryPoint is one planned day
type TrajectoryPoint struct {
	Date         time.Time `db:"date" json:"date"`
	TargetStress float64   `db:"target_stress" json:"target_stress"`
	Fitness      float64   `db:"fitness" json:"fitness"`
	Fatigue      float64   `db:"fatigue" json:"fatigue"`
	Form         float64   `db:"form" json:"form"`
	Phase        Phase     `db:"phase" json:"phase"`
}

// Trajectory is a complete load plan toward one event. It is replaced wholesale,
// never patched.
type Trajectory struct {
	AthleteID            string    `db:"athlete_id" json:"athlete_id"`
	EventDate            time.Time `db:"event_date" json:"event_date"`
	GeneratedAt          time.Time `db:"generated_at" json:"generated_at"`
	TaperDays            int       `db:"taper_days" json:"taper_days"`
	AdapterTier          string    `db:"adapter_tier" json:"adapter_tier"`
	MaintenanceOnly      bool      `db:"maintenance_only" json:"maintenance_only"`
	ProjectedPerformance float64   `db:"projected_performance" json:"projected_performance"`
	ProjectedForm        float64   `db:"projected_form" json:"projected_form"`

	// The parameters the plan was computed from. A plan from population
	// defaults is not individualized.
	ParamsDefault    bool       `db:"params_default" json:"params_default"`
	ParamsConfidence Confidence `db:"params_confidence" json:"params_confidence"`

	Points []TrajectoryPoint `json:"points"`
}

// PointOn returns the planned point for a date, if any
func (t *Trajectory) PointOn(date time.Time) (TrajectoryPoint, bool) {
	key := date.Format(DateLayout)
	for _, p := range t.Points {
		if p.Date.Format(DateLayout) == key {
			return p, true
		}
	}
	return TrajectoryPoint{}, false
}

// FindingKey is the natural key of a correlation finding
type FindingKey struct {
	AthleteID    string
	InputName    string
	OutputMetric string
	LagDays      int
}

// CorrelationFinding is a persisted, reproducibility-tracked input/output relationship
type CorrelationFinding struct {
	ID              int64      `db:"id" json:"id"`
	AthleteID       string     `db:"athlete_id" json:"athlete_id"`
	InputName       string     `db:"input_name" json:"input_name"`
	OutputMetric    string     `db:"output_metric" json:"output_metric"`
	LagDays         int        `db:"lag_days" json:"lag_days"`
	Correlation     float64    `db:"correlation" json:"correlation"`
	PValue          float64    `db:"p_value" json:"p_value"`
	SampleSize      int        `db:"sample_size" json:"sample_size"`
	TimesConfirmed  int        `db:"times_confirmed" json:"times_confirmed"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	Confidence      float64    `db:"confidence" json:"confidence"`
	LastSurfacedAt  *time.Time `db:"last_surfaced_at" json:"last_surfaced_at,omitempty"`
	FirstDetectedAt time.Time  `db:"first_detected_at" json:"first_detected_at"`
	LastConfirmedAt time.Time  `db:"last_confirmed_at" json:"last_confirmed_at"`
	LastRunID       string     `db:"last_run_id" json:"last_run_id"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Key returns the finding's natural key
func (f *CorrelationFinding) Key() FindingKey {
	return FindingKey{
		AthleteID:    f.AthleteID,
		InputName:    f.InputName,
		OutputMetric: f.OutputMetric,
		LagDays:      f.LagDays,
	}
}

// Deviation directions for self-regulation entries
const (
	DeviationUnder  = "under"
	DeviationOnPlan = "on_plan"
	DeviationOver   = "over"
)

// SelfRegulationEntry records planned vs actual training as data, not as a penalty
type SelfRegulationEntry struct {
	ID            string    `db:"id" json:"id"`
	AthleteID     string    `db:"athlete_id" json:"athlete_id"`
	Date          time.Time `db:"date" json:"date"`
	PlannedStress float64   `db:"planned_stress" json:"planned_stress"`
	ActualStress  float64   `db:"actual_stress" json:"actual_stress"`
	Deviation     float64   `db:"deviation" json:"deviation"`                   // actual - planned
	DeviationPct  *float64  `db:"deviation_pct" json:"deviation_pct,omitempty"` // nil when planned is zero
	Direction     string    `db:"direction" json:"direction"`
	RecordedAt    time.Time `db:"recorded_at" json:"recorded_at"`
}

// BestEffort is an athlete's fastest recorded time over a standard distance
type BestEffort struct {
	AthleteID       string    `db:"athlete_id" json:"athlete_id"`
	Category        string    `db:"category" json:"category"`
	DistanceMeters  float64   `db:"distance_meters" json:"distance_meters"`
	DurationSeconds int       `db:"duration_seconds" json:"duration_seconds"`
	AvgHeartRate    float64   `db:"avg_heartrate" json:"avg_heartrate,omitempty"`
	AchievedOn      time.Time `db:"achieved_on" json:"achieved_on"`
}
