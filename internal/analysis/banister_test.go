package analysis

import (
	"testing"
	"time"

	"adaptive-training/internal/config"
	"adaptive-training/internal/store"
)

var calibratedAt = time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC)

// syntheticHistory generates days of varied training with a rest day each week
// and a marker every other day produced by the given true model
func syntheticHistory(days int, truth store.BanisterParams) ([]store.TrainingSample, []PerformanceMarker) {
	start := date("2024-01-01")
	var samples []store.TrainingSample
	loads := make([]DailyLoad, days)

	for d := 0; d < days; d++ {
		stress := 0.0
		if d%7 != 6 {
			stress = 40 + 30*float64((d*7)%5)/4 + 25*float64((d/21)%3)
			samples = append(samples, store.TrainingSample{AthleteID: "a1", Date: start.AddDate(0, 0, d), Stress: stress})
		}
		loads[d] = DailyLoad{Date: start.AddDate(0, 0, d), Stress: stress}
	}

	var markers []PerformanceMarker
	for i, s := range Simulate(truth, loads) {
		if i%2 == 0 {
			markers = append(markers, PerformanceMarker{Date: s.Date, Value: s.Performance})
		}
	}
	return samples, markers
}

func TestDefaultParamsAreTagged(t *testing.T) {
	m := config.DefaultTuning().Model
	p := DefaultParams("a1", m, calibratedAt)

	if !p.IsDefault {
		t.Error("defaults must be tagged IsDefault")
	}
	if p.Confidence != store.ConfidenceUncalibrated {
		t.Errorf("Confidence = %q, want uncalibrated", p.Confidence)
	}
	if p.Source != store.SourcePopulationDefault {
		t.Errorf("Source = %q, want %q", p.Source, store.SourcePopulationDefault)
	}
	if p.TauFitness <= 0 || p.TauFatigue <= 0 {
		t.Errorf("taus must be positive, got (%v, %v)", p.TauFitness, p.TauFatigue)
	}
}

func TestCalibrateInsufficientHistory(t *testing.T) {
	m := config.DefaultTuning().Model
	truth := store.BanisterParams{TauFitness: 25, TauFatigue: 7, KFitness: 1, KFatigue: 2, Offset: 50}

	tests := []struct {
		name    string
		days    int
		markers int // keep only the first n markers; -1 keeps all
	}{
		{"no history", 0, -1},
		{"short span", 20, -1},
		{"too few markers", 120, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, markers := syntheticHistory(tt.days, truth)
			if tt.markers >= 0 && len(markers) > tt.markers {
				markers = markers[:tt.markers]
			}

			res := Calibrate("a1", samples, markers, nil, m, calibratedAt)
			if res.Fallback != FallbackInsufficientData {
				t.Errorf("Fallback = %q, want %q", res.Fallback, FallbackInsufficientData)
			}
			if !res.Params.IsDefault || res.Params.Confidence != store.ConfidenceUncalibrated {
				t.Errorf("params = %+v, want uncalibrated defaults", res.Params)
			}
		})
	}
}

func TestCalibrateRecoversSyntheticAthlete(t *testing.T) {
	m := config.DefaultTuning().Model
	truth := store.BanisterParams{TauFitness: 25, TauFatigue: 7, KFitness: 1, KFatigue: 2, Offset: 50}
	samples, markers := syntheticHistory(360, truth)

	res := Calibrate("a1", samples, markers, nil, m, calibratedAt)

	if res.Fallback != "" {
		t.Fatalf("Fallback = %q, want fitted", res.Fallback)
	}
	p := res.Params
	if p.IsDefault || p.Source != store.SourceFitted {
		t.Errorf("params should be fitted, got IsDefault=%v Source=%q", p.IsDefault, p.Source)
	}
	if p.TauFitness <= p.TauFatigue {
		t.Errorf("tau_fitness (%v) must exceed tau_fatigue (%v)", p.TauFitness, p.TauFatigue)
	}
	if p.TauFitness < 18 || p.TauFitness > 35 {
		t.Errorf("TauFitness = %v, want near 25", p.TauFitness)
	}
	if p.TauFatigue < 4 || p.TauFatigue > 11 {
		t.Errorf("TauFatigue = %v, want near 7", p.TauFatigue)
	}
	if p.FitR2 == nil || *p.FitR2 < 0.95 {
		t.Errorf("FitR2 = %v, want >= 0.95", p.FitR2)
	}
	if p.Confidence != store.ConfidenceHigh {
		t.Errorf("Confidence = %q, want high for a dense 360-day history", p.Confidence)
	}
	if p.SamplesUsed != len(samples) || p.HistoryDays != 360 {
		t.Errorf("bookkeeping = (%d, %d), want (%d, 360)", p.SamplesUsed, p.HistoryDays, len(samples))
	}
	if !p.CalibratedAt.Equal(calibratedAt) {
		t.Errorf("CalibratedAt = %v, want %v", p.CalibratedAt, calibratedAt)
	}
}

func TestCalibrateDegenerateFit(t *testing.T) {
	m := config.DefaultTuning().Model
	truth := store.BanisterParams{TauFitness: 25, TauFatigue: 7, KFitness: 1, KFatigue: 2}
	samples, markers := syntheticHistory(120, truth)

	// a flat marker series carries no information about the response
	for i := range markers {
		markers[i].Value = 3.2
	}

	previous := &store.BanisterParams{
		AthleteID: "a1", TauFitness: 33, TauFatigue: 9, KFitness: 1.1, KFatigue: 1.8,
		Confidence: store.ConfidenceModerate, Source: store.SourceFitted,
	}

	tests := []struct {
		name       string
		previous   *store.BanisterParams
		wantSource string
		wantTau    float64
	}{
		{"previous stable params", previous, store.SourcePrevious, 33},
		{"no previous", nil, store.SourcePopulationDefault, m.DefaultTauFitness},
		{"previous was defaults", &store.BanisterParams{TauFitness: 42, TauFatigue: 7, IsDefault: true}, store.SourcePopulationDefault, m.DefaultTauFitness},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Calibrate("a1", samples, markers, tt.previous, m, calibratedAt)
			if res.Fallback != FallbackDegenerateFit {
				t.Errorf("Fallback = %q, want %q", res.Fallback, FallbackDegenerateFit)
			}
			if res.Params.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", res.Params.Source, tt.wantSource)
			}
			if res.Params.TauFitness != tt.wantTau {
				t.Errorf("TauFitness = %v, want %v", res.Params.TauFitness, tt.wantTau)
			}
		})
	}

	if previous.Source != store.SourceFitted {
		t.Error("fallback must not mutate the caller's previous params")
	}
}

func TestConfidenceTierMonotonic(t *testing.T) {
	m := config.DefaultTuning().Model

	tests := []struct {
		name    string
		span    int
		density float64
		markers int
		r2      float64
		want    store.Confidence
	}{
		{"everything high", 400, 0.8, 100, 0.9, store.ConfidenceHigh},
		{"long but sparse", 400, 0.45, 100, 0.9, store.ConfidenceModerate},
		{"long dense but poor fit", 400, 0.8, 100, 0.35, store.ConfidenceModerate},
		{"short", 60, 0.8, 30, 0.9, store.ConfidenceLow},
		{"very poor fit", 400, 0.8, 100, 0.1, store.ConfidenceLow},
		{"too sparse for any tier", 400, 0.1, 100, 0.9, store.ConfidenceUncalibrated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := confidenceTier(tt.span, tt.density, tt.markers, tt.r2, m); got != tt.want {
				t.Errorf("confidenceTier = %q, want %q", got, tt.want)
			}
		})
	}

	// more of every input never lowers the tier
	prev := 0
	for span := 30; span <= 420; span += 30 {
		got := confidenceTier(span, 0.9, span/4, 0.9, m).Rank()
		if got < prev {
			t.Fatalf("tier rank dropped from %d to %d at span %d", prev, got, span)
		}
		prev = got
	}
}

func TestNeedsRecalibration(t *testing.T) {
	m := config.DefaultTuning().Model
	now := calibratedAt.AddDate(0, 0, 3)
	p := &store.BanisterParams{SamplesUsed: 100, CalibratedAt: calibratedAt}

	tests := []struct {
		name    string
		params  *store.BanisterParams
		samples int
		now     time.Time
		want    bool
	}{
		{"never calibrated", nil, 10, now, true},
		{"few new samples, recent", p, 105, now, false},
		{"sample threshold crossed", p, 114, now, true},
		{"day threshold crossed", p, 101, calibratedAt.AddDate(0, 0, 7), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRecalibration(tt.params, tt.samples, tt.now, m); got != tt.want {
				t.Errorf("NeedsRecalibration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkersFromSignals(t *testing.T) {
	signals := []store.SignalSample{
		{Date: date("2024-01-03"), Outputs: map[string]float64{"pace_at_effort": 300}},
		{Date: date("2024-01-01"), Outputs: map[string]float64{"pace_at_effort": 310}},
		{Date: date("2024-01-02"), Inputs: map[string]float64{"sleep_hours": 7}},
	}

	markers := MarkersFromSignals(signals, "pace_at_effort", true)
	if len(markers) != 2 {
		t.Fatalf("len = %d, want 2 (absent days are skipped, never zero)", len(markers))
	}
	if !markers[0].Date.Equal(date("2024-01-01")) {
		t.Errorf("markers not sorted: first = %v", markers[0].Date)
	}
	if markers[0].Value != -310 {
		t.Errorf("inverted value = %v, want -310", markers[0].Value)
	}
}
