package analysis

import (
	"math"
	"testing"
	"time"

	"adaptive-training/internal/config"
)

func TestSessionStress(t *testing.T) {
	tuning := config.DefaultTuning().Session // resting 50, max 185

	tests := []struct {
		name     string
		points   []SessionPoint
		expected float64
		delta    float64
	}{
		{"no heart rate", []SessionPoint{{Speed: floatPtr(3)}}, 0, 0},
		{
			// ratio (117.5-50)/135 = 0.5 over 60 minutes
			name:     "hour at half reserve",
			points:   steady(3600, 3.0, 117.5),
			expected: 60 * 0.5 * math.Exp(0.96),
			delta:    1e-9,
		},
		{
			name:     "above max is capped",
			points:   steady(600, 3.0, 200),
			expected: 10 * math.Exp(1.92),
			delta:    1e-9,
		},
		{
			name:     "below resting contributes nothing",
			points:   steady(600, 0, 45),
			expected: 0,
			delta:    1e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionStress(tt.points, tuning)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("SessionStress() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSessionOutputs(t *testing.T) {
	tuning := config.DefaultTuning().Session
	// effort heart rate: 50 + 135*0.7 = 144.5
	points := steady(600, 4.0, 144.5)

	out := SessionOutputs(points, tuning)
	if got := out[OutputEfficiency]; math.Abs(got-240/144.5) > 1e-9 {
		t.Errorf("efficiency = %v", got)
	}
	if got := out[OutputPaceAtEffort]; math.Abs(got-250) > 1e-9 {
		t.Errorf("pace_at_effort = %v, want 250", got)
	}
	// a measured 0% drift is a result, not a missing value
	if got, ok := out[OutputAerobicDecoupling]; !ok || math.Abs(got) > 1e-9 {
		t.Errorf("aerobic_decoupling = %v, %v, want 0, true", got, ok)
	}

	if out := SessionOutputs(steady(20, 0, 0), tuning); len(out) != 0 {
		t.Errorf("unmeasurable session produced outputs %v", out)
	}
}

func TestSummarizeSessions(t *testing.T) {
	tuning := config.DefaultTuning().Session
	morning := Session{Date: date("2025-03-01").Add(7 * time.Hour), Points: steady(1800, 3.0, 117.5)}
	evening := Session{Date: date("2025-03-01").Add(18 * time.Hour), Points: steady(600, 4.0, 144.5)}
	rest := Session{Date: date("2025-03-03"), Points: steady(600, 0, 0)}

	training, signals := SummarizeSessions("a1", []Session{rest, evening, morning}, tuning)

	if len(training) != 2 {
		t.Fatalf("expected 2 training days, got %d", len(training))
	}
	if !training[0].Date.Equal(date("2025-03-01")) || !training[1].Date.Equal(date("2025-03-03")) {
		t.Errorf("unexpected dates %v, %v", training[0].Date, training[1].Date)
	}
	want := SessionStress(morning.Points, tuning) + SessionStress(evening.Points, tuning)
	if math.Abs(training[0].Stress-want) > 1e-9 {
		t.Errorf("stress = %v, want %v", training[0].Stress, want)
	}
	if training[1].Stress != 0 {
		t.Errorf("rest day stress = %v", training[1].Stress)
	}

	if len(signals) != 1 {
		t.Fatalf("expected outputs for one day, got %d", len(signals))
	}
	// the longer morning session wins
	if got := signals[0].Outputs[OutputEfficiency]; math.Abs(got-1.2*150/117.5) > 1e-9 {
		t.Errorf("efficiency = %v, want the morning session's", got)
	}
	if signals[0].AthleteID != "a1" {
		t.Errorf("athlete = %q", signals[0].AthleteID)
	}
}
