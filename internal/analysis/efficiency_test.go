package analysis

import (
	"math"
	"testing"
)

func floatPtr(f float64) *float64 {
	return &f
}

func point(speed, hr float64) SessionPoint {
	return SessionPoint{Speed: floatPtr(speed), HeartRate: floatPtr(hr)}
}

// steady returns n seconds at a constant speed and heart rate
func steady(n int, speed, hr float64) []SessionPoint {
	points := make([]SessionPoint, n)
	for i := range points {
		points[i] = point(speed, hr)
	}
	return points
}

func TestEfficiencyFactor(t *testing.T) {
	tests := []struct {
		name     string
		points   []SessionPoint
		expected float64
		delta    float64
	}{
		{
			name:     "empty session",
			points:   nil,
			expected: 0,
		},
		{
			name:     "standing still is ignored",
			points:   []SessionPoint{point(0.3, 140), point(0.4, 145)},
			expected: 0,
		},
		{
			name:     "implausible heart rate is ignored",
			points:   []SessionPoint{point(3.0, 70), point(3.0, 225)},
			expected: 0,
		},
		{
			name:     "missing heart rate is ignored",
			points:   []SessionPoint{{Speed: floatPtr(3.0)}, point(3.0, 150)},
			expected: 3.0 * 60 / 150,
			delta:    1e-9,
		},
		{
			// 3 m/s = 180 m/min at 150 bpm
			name:     "steady run",
			points:   steady(600, 3.0, 150),
			expected: 1.2,
			delta:    1e-9,
		},
		{
			name:     "averages speed and heart rate separately",
			points:   []SessionPoint{point(2.0, 120), point(4.0, 180)},
			expected: 3.0 * 60 / 150,
			delta:    1e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EfficiencyFactor(tt.points)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("EfficiencyFactor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPaceAtHR(t *testing.T) {
	// 4 m/s = 250 s/km
	inZone := steady(40, 4.0, 145)
	outOfZone := steady(100, 5.0, 170)

	tests := []struct {
		name     string
		points   []SessionPoint
		min      int
		expected float64
	}{
		{"enough time in zone", append(append([]SessionPoint{}, inZone...), outOfZone...), 30, 250},
		{"too little time in zone", inZone, 60, 0},
		{"never in zone", outOfZone, 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PaceAtHR(tt.points, 145, 5, tt.min)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("PaceAtHR() = %v, want %v", got, tt.expected)
			}
		})
	}
}
