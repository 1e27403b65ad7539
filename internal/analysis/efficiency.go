package analysis

// SessionPoint is one sample of a recorded session, nominally one per second
type SessionPoint struct {
	Speed     *float64 `json:"speed,omitempty"` // m/s
	HeartRate *float64 `json:"hr,omitempty"`    // bpm
}

// moving reports whether the point carries both channels and passes the noise
// filter: actually moving, with a plausible heart rate
func (p SessionPoint) moving() bool {
	if p.Speed == nil || p.HeartRate == nil {
		return false
	}
	hr := *p.HeartRate
	return *p.Speed > 0.5 && hr > 80 && hr < 220
}

// EfficiencyFactor is average speed (m/min) over average heart rate across
// moving points. Higher is better; typical values range from 1.0 to 2.0.
func EfficiencyFactor(points []SessionPoint) float64 {
	var totalSpeed, totalHR float64
	var count int

	for _, p := range points {
		if !p.moving() {
			continue
		}
		totalSpeed += *p.Speed
		totalHR += *p.HeartRate
		count++
	}

	if count == 0 {
		return 0
	}
	avgSpeed := totalSpeed / float64(count) * 60 // m/min
	return avgSpeed / (totalHR / float64(count))
}

// PaceAtHR returns the average pace in seconds per km while heart rate is
// within tolerance of targetHR. Returns 0 with fewer than minSeconds
// qualifying points.
func PaceAtHR(points []SessionPoint, targetHR, tolerance float64, minSeconds int) float64 {
	var totalPace float64
	var count int

	for _, p := range points {
		if !p.moving() {
			continue
		}
		hr := *p.HeartRate
		if hr < targetHR-tolerance || hr > targetHR+tolerance {
			continue
		}
		totalPace += 1000 / *p.Speed
		count++
	}

	if count < minSeconds {
		return 0
	}
	return totalPace / float64(count)
}
