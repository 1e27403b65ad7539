package analysis

import (
	"math"
	"testing"
)

func TestAerobicDecoupling(t *testing.T) {
	tests := []struct {
		name     string
		points   []SessionPoint
		expected float64
		delta    float64
		ok       bool
	}{
		{
			name:     "too short",
			points:   steady(60, 3.0, 150),
			expected: 0,
		},
		{
			name:     "steady effort does not drift",
			points:   steady(600, 3.0, 150),
			expected: 0,
			delta:    1e-9,
			ok:       true,
		},
		{
			// same pace, heart rate 150 -> 160: (160/150 - 1) * 100
			name:     "cardiac drift in the second half",
			points:   append(steady(300, 3.0, 150), steady(300, 3.0, 160)...),
			expected: 6.6667,
			delta:    0.001,
			ok:       true,
		},
		{
			name:     "negative split at the same heart rate",
			points:   append(steady(300, 3.0, 150), steady(300, 3.3, 150)...),
			expected: -9.0909,
			delta:    0.001,
			ok:       true,
		},
		{
			name:     "no heart rate in one half",
			points:   append(steady(300, 3.0, 150), make([]SessionPoint, 300)...),
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AerobicDecoupling(tt.points, 120)
			if ok != tt.ok {
				t.Fatalf("AerobicDecoupling() ok = %v, want %v", ok, tt.ok)
			}
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("AerobicDecoupling() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAverageHR(t *testing.T) {
	points := []SessionPoint{point(0, 100), {HeartRate: floatPtr(0)}, {Speed: floatPtr(3)}, point(3, 140)}
	if got := averageHR(points); got != 120 {
		t.Errorf("averageHR() = %v, want 120", got)
	}
	if got := averageHR(nil); got != 0 {
		t.Errorf("averageHR(nil) = %v, want 0", got)
	}
}
