package analysis

import (
	"math"
	"sort"
	"time"

	"adaptive-training/internal/store"
)

// DailyLoad represents training stress for a single day
type DailyLoad struct {
	Date   time.Time
	Stress float64
}

// State is the simulated fitness/fatigue state at the end of a day
type State struct {
	Date        time.Time
	Fitness     float64 // slow component
	Fatigue     float64 // fast component
	Form        float64 // Fitness - Fatigue
	Performance float64 // Offset + KFitness*Fitness - KFatigue*Fatigue
}

// Day truncates t to its UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from a to b
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Day(b).Sub(Day(a)).Hours() / 24))
}

// DailyLoads builds one entry per day in [from, to]. Days with no sample are
// rest days with zero stress. Zero bounds default to the first and last sample.
func DailyLoads(samples []store.TrainingSample, from, to time.Time) []DailyLoad {
	if len(samples) == 0 && (from.IsZero() || to.IsZero()) {
		return nil
	}

	sorted := make([]store.TrainingSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	if from.IsZero() {
		from = sorted[0].Date
	}
	if to.IsZero() {
		to = sorted[len(sorted)-1].Date
	}
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return nil
	}

	// Sum multiple samples on the same day
	loadMap := make(map[string]float64)
	for _, s := range sorted {
		loadMap[s.Date.Format(store.DateLayout)] += s.Stress
	}

	loads := make([]DailyLoad, 0, DaysBetween(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		loads = append(loads, DailyLoad{Date: d, Stress: loadMap[d.Format(store.DateLayout)]})
	}
	return loads
}

// decay is the per-day weight of a new impulse for time constant tau
func decay(tau float64) float64 {
	return 1 - math.Exp(-1/tau)
}

// Simulate runs the impulse-response model over loads from a rested state
func Simulate(p store.BanisterParams, loads []DailyLoad) []State {
	return SimulateFrom(p, State{}, loads)
}

// SimulateFrom continues the model from start over loads
func SimulateFrom(p store.BanisterParams, start State, loads []DailyLoad) []State {
	if len(loads) == 0 {
		return nil
	}

	fitDecay := decay(p.TauFitness)
	fatDecay := decay(p.TauFatigue)

	states := make([]State, len(loads))
	fitness, fatigue := start.Fitness, start.Fatigue
	for i, dl := range loads {
		fitness += (dl.Stress - fitness) * fitDecay
		fatigue += (dl.Stress - fatigue) * fatDecay
		states[i] = stateFor(p, dl.Date, fitness, fatigue)
	}
	return states
}

func stateFor(p store.BanisterParams, date time.Time, fitness, fatigue float64) State {
	return State{
		Date:        date,
		Fitness:     fitness,
		Fatigue:     fatigue,
		Form:        fitness - fatigue,
		Performance: p.Offset + p.KFitness*fitness - p.KFatigue*fatigue,
	}
}

// CurrentState returns the state at the end of the last load, or a zero state
func CurrentState(p store.BanisterParams, loads []DailyLoad) State {
	states := Simulate(p, loads)
	if len(states) == 0 {
		return State{}
	}
	return states[len(states)-1]
}

// AverageStress returns the mean daily stress of the window ending on (and
// including) the last load
func AverageStress(loads []DailyLoad, window int) float64 {
	if len(loads) == 0 || window <= 0 {
		return 0
	}
	if window > len(loads) {
		window = len(loads)
	}
	var sum float64
	for _, dl := range loads[len(loads)-window:] {
		sum += dl.Stress
	}
	return sum / float64(window)
}

// FormDescription returns a coarse band for form relative to fitness. Labels are
// codes for a presentation layer, not athlete-facing text.
func FormDescription(form, fitness float64) string {
	if fitness <= 0 {
		return "no_history"
	}
	ratio := form / fitness
	switch {
	case ratio > 0.25:
		return "very_fresh"
	case ratio > 0.10:
		return "fresh"
	case ratio > 0:
		return "neutral"
	case ratio > -0.10:
		return "slightly_fatigued"
	case ratio > -0.30:
		return "building"
	default:
		return "very_fatigued"
	}
}
