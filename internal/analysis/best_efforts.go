package analysis

// OutputPersonalBest is 1 on a day a stored best effort was beaten, 0 on a day
// whose efforts were compared and beat nothing
const OutputPersonalBest = "personal_best"

// BestEffort is the fastest stretch of a session covering a standard distance
type BestEffort struct {
	Category        string
	DistanceMeters  float64
	DurationSeconds int
	StartOffset     int // seconds into the session
	EndOffset       int
	AvgHeartRate    float64
}

// Standard effort distances in meters
const (
	Distance400m  = 400
	Distance1K    = 1000
	Distance1Mile = 1609.34
	Distance5K    = 5000
	Distance10K   = 10000

	MinPointsForEffort = 10
)

// EffortDistances are the tracked distances by category, shortest first
var EffortDistances = []struct {
	Category string
	Meters   float64
}{
	{"effort_400m", Distance400m},
	{"effort_1k", Distance1K},
	{"effort_1mi", Distance1Mile},
	{"effort_5k", Distance5K},
	{"effort_10k", Distance10K},
}

// FindBestEffort finds the fastest segment covering targetDistance meters.
// Points are one second apart and distance accumulates from speed. Returns nil
// if the session is shorter than targetDistance or has too few points.
func FindBestEffort(points []SessionPoint, targetDistance float64) *BestEffort {
	if len(points) < MinPointsForEffort {
		return nil
	}

	// cum[i] is the distance covered before second i
	cum := make([]float64, len(points)+1)
	for i, p := range points {
		step := 0.0
		if p.Speed != nil && *p.Speed > 0 {
			step = *p.Speed
		}
		cum[i+1] = cum[i] + step
	}
	if cum[len(points)] < targetDistance {
		return nil
	}

	// cum is non-decreasing, so the shortest covering end never moves back
	best, bestLeft, bestRight := -1, 0, 0
	right := 1
	for left := 0; left < len(points); left++ {
		if right <= left {
			right = left + 1
		}
		for right <= len(points) && cum[right]-cum[left] < targetDistance {
			right++
		}
		if right > len(points) {
			break
		}
		if d := right - left; best < 0 || d < best {
			best, bestLeft, bestRight = d, left, right
		}
	}
	if best < 0 {
		return nil
	}

	return &BestEffort{
		DistanceMeters:  cum[bestRight] - cum[bestLeft],
		DurationSeconds: best,
		StartOffset:     bestLeft,
		EndOffset:       bestRight,
		AvgHeartRate:    averageHR(points[bestLeft:bestRight]),
	}
}

// BestEfforts returns the session's best effort for every tracked distance it
// covers
func BestEfforts(points []SessionPoint) []BestEffort {
	var out []BestEffort
	for _, d := range EffortDistances {
		e := FindBestEffort(points, d.Meters)
		if e == nil {
			// longer distances can't be covered either
			break
		}
		e.Category = d.Category
		out = append(out, *e)
	}
	return out
}

// PacePerKm is seconds per kilometer over an effort
func PacePerKm(distanceMeters float64, durationSeconds int) float64 {
	if distanceMeters <= 0 || durationSeconds <= 0 {
		return 0
	}
	return float64(durationSeconds) / (distanceMeters / 1000)
}
