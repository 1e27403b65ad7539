package analysis

// AerobicDecoupling is the efficiency drift from the first half of a session
// to the second, in percent. Positive means the second half was less
// efficient; under 5% on long sessions indicates a good aerobic base. ok is
// false for sessions shorter than minSeconds or with a half that has no moving
// heart rate data.
func AerobicDecoupling(points []SessionPoint, minSeconds int) (pct float64, ok bool) {
	if len(points) < minSeconds {
		return 0, false
	}

	mid := len(points) / 2
	first := halfEfficiency(points[:mid])
	second := halfEfficiency(points[mid:])
	if first == 0 || second == 0 {
		return 0, false
	}

	// ((first / second) - 1) * 100
	return (first/second - 1) * 100, true
}

func halfEfficiency(points []SessionPoint) float64 {
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
	return (totalSpeed / float64(count)) / (totalHR / float64(count))
}

// averageHR is the mean of every recorded heart rate, moving or not
func averageHR(points []SessionPoint) float64 {
	var total float64
	var count int
	for _, p := range points {
		if p.HeartRate != nil && *p.HeartRate > 0 {
			total += *p.HeartRate
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
