package analysis

import (
	"math"
	"sort"
	"time"

	"adaptive-training/internal/config"
	"adaptive-training/internal/store"
)

// Outputs derived from recorded sessions
const (
	OutputEfficiency        = "efficiency"
	OutputAerobicDecoupling = "aerobic_decoupling"
	OutputPaceAtEffort      = "pace_at_effort"
)

// Session is one recorded workout
type Session struct {
	Date   time.Time
	Points []SessionPoint
}

// SessionStress is Banister's training impulse for a session:
// minutes × reserve ratio × e^(1.92 × reserve ratio), the ratio being average
// heart rate as a fraction of heart rate reserve
func SessionStress(points []SessionPoint, t config.SessionTuning) float64 {
	avgHR := averageHR(points)
	reserve := t.MaxHR - t.RestingHR
	if avgHR == 0 || reserve <= 0 {
		return 0
	}

	ratio := clamp01((avgHR - t.RestingHR) / reserve)
	minutes := float64(len(points)) / 60
	return minutes * ratio * math.Exp(1.92*ratio)
}

// SessionOutputs derives the measured outputs of one session. Anything that
// cannot be measured is left out rather than reported as zero.
func SessionOutputs(points []SessionPoint, t config.SessionTuning) map[string]float64 {
	out := make(map[string]float64)

	if ef := EfficiencyFactor(points); ef > 0 {
		out[OutputEfficiency] = ef
	}
	if d, ok := AerobicDecoupling(points, t.MinDecouplingSeconds); ok {
		out[OutputAerobicDecoupling] = d
	}

	target := t.RestingHR + (t.MaxHR-t.RestingHR)*t.EffortReserve
	if pace := PaceAtHR(points, target, t.EffortTolerance, t.MinEffortSeconds); pace > 0 {
		out[OutputPaceAtEffort] = pace
	}
	return out
}

// SummarizeSessions folds sessions into one training sample and at most one
// output sample per day. Stress is summed across the day; outputs come from
// the day's longest session that produced any.
func SummarizeSessions(athleteID string, sessions []Session, t config.SessionTuning) ([]store.TrainingSample, []store.SignalSample) {
	type day struct {
		date    time.Time
		stress  float64
		outputs map[string]float64
		longest int
	}
	days := make(map[string]*day)

	for _, s := range sessions {
		d := Day(s.Date)
		key := d.Format(store.DateLayout)
		agg, ok := days[key]
		if !ok {
			agg = &day{date: d}
			days[key] = agg
		}

		agg.stress += SessionStress(s.Points, t)
		if outputs := SessionOutputs(s.Points, t); len(outputs) > 0 && len(s.Points) > agg.longest {
			agg.outputs = outputs
			agg.longest = len(s.Points)
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var training []store.TrainingSample
	var signals []store.SignalSample
	for _, k := range keys {
		agg := days[k]
		training = append(training, store.TrainingSample{AthleteID: athleteID, Date: agg.date, Stress: agg.stress})
		if len(agg.outputs) > 0 {
			signals = append(signals, store.SignalSample{AthleteID: athleteID, Date: agg.date, Outputs: agg.outputs})
		}
	}
	return training, signals
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
