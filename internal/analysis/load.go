package analysis

import (
	"errors"
	"math"
	"time"

	"adaptive-training/internal/config"
	"adaptive-training/internal/store"
)

// AdapterTier buckets athletes by how quickly they gain and lose fitness
type AdapterTier string

const (
	TierFast     AdapterTier = "fast"
	TierStandard AdapterTier = "standard"
	TierSlow     AdapterTier = "slow"
)

// ErrEventInPast is returned when the event is not after the plan start
var ErrEventInPast = errors.New("event date must be after plan start")

// tolerance for comparing simulated objectives
const objectiveEpsilon = 1e-9

// TaperDuration derives the taper length from the athlete's time constants.
// Fast adapters lose fitness quickly, so their taper is shorter and more
// tightly bounded.
func TaperDuration(p store.BanisterParams, t config.TaperTuning) (int, AdapterTier) {
	tier, bounds := TierStandard, t.Standard
	switch {
	case p.TauFitness < t.FastBelow:
		tier, bounds = TierFast, t.Fast
	case p.TauFitness >= t.SlowFrom:
		tier, bounds = TierSlow, t.Slow
	}

	days := int(math.Round(p.TauFatigue * bounds.Multiplier))
	days = max(days, bounds.MinDays)
	days = min(days, bounds.MaxDays)
	return days, tier
}

// PlanInput is everything needed to plan toward one event
type PlanInput struct {
	Params    store.BanisterParams
	History   []store.TrainingSample
	Start     time.Time // first planned day
	EventDate time.Time
	Now       time.Time
}

// Baseline returns the recent average daily stress before start, floored at
// the configured minimum
func Baseline(history []store.TrainingSample, start time.Time, t config.PlanTuning) float64 {
	start = Day(start)
	from := start.AddDate(0, 0, -t.BaselineWindowDays)
	to := start.AddDate(0, 0, -1)

	var window []store.TrainingSample
	for _, s := range history {
		d := Day(s.Date)
		if !d.Before(from) && !d.After(to) {
			window = append(window, s)
		}
	}
	avg := AverageStress(DailyLoads(window, from, to), t.BaselineWindowDays)
	return math.Max(avg, t.MinBaselineDailyStress)
}

// startState simulates history up to the day before start
func startState(p store.BanisterParams, history []store.TrainingSample, start time.Time) State {
	var before []store.TrainingSample
	for _, s := range history {
		if Day(s.Date).Before(start) {
			before = append(before, s)
		}
	}
	if len(before) == 0 {
		return State{}
	}
	return CurrentState(p, DailyLoads(before, time.Time{}, start.AddDate(0, 0, -1)))
}

// PlanTrajectory forward-simulates candidate schedules and returns the one
// that maximizes race-day performance. When the window is too short for a
// build plus taper it returns a flat maintenance plan instead of projecting
// gains the window cannot support.
func PlanTrajectory(in PlanInput, t config.Tuning) (*store.Trajectory, error) {
	start, event := Day(in.Start), Day(in.EventDate)
	days := DaysBetween(start, event)
	if days <= 0 {
		return nil, ErrEventInPast
	}

	taper, tier := TaperDuration(in.Params, t.Taper)
	baseline := Baseline(in.History, start, t.Plan)
	initial := startState(in.Params, in.History, start)

	traj := &store.Trajectory{
		AthleteID:   in.Params.AthleteID,
		EventDate:   event,
		GeneratedAt: in.Now,
		AdapterTier: string(tier),

		ParamsDefault:    in.Params.IsDefault,
		ParamsConfidence: in.Params.Confidence,
	}

	if days < taper+t.Plan.MinBuildDays {
		loads := make([]float64, days)
		for i := range loads {
			loads[i] = baseline
		}
		traj.MaintenanceOnly = true
		fillPoints(traj, in.Params, initial, start, loads, func(int) store.Phase { return store.PhaseMaintenance })
		return traj, nil
	}

	buildDays := days - taper
	best := candidate{objective: math.Inf(-1)}

	steps := int(math.Round(t.Plan.MaxWeeklyIncrease / t.Plan.GrowthStep))
	for i := 0; i <= steps; i++ {
		growth := float64(i) * t.Plan.GrowthStep
		for _, depth := range t.Plan.TaperDepths {
			loads := schedule(baseline, buildDays, taper, growth, depth, t.Plan.MaxPeakMultiplier)
			states := SimulateFrom(in.Params, initial, toDailyLoads(start, loads))
			end := states[len(states)-1]
			c := candidate{
				loads:     loads,
				objective: end.Performance,
				form:      end.Form,
				total:     sum(loads),
			}
			if c.better(best) {
				best = c
			}
		}
	}

	traj.TaperDays = taper
	phase := phaseFunc(buildDays)
	fillPoints(traj, in.Params, initial, start, best.loads, phase)
	return traj, nil
}

type candidate struct {
	loads     []float64
	objective float64
	form      float64
	total     float64
}

// better prefers higher performance, then higher form, then less total load
func (c candidate) better(o candidate) bool {
	if math.Abs(c.objective-o.objective) > objectiveEpsilon {
		return c.objective > o.objective
	}
	if math.Abs(c.form-o.form) > objectiveEpsilon {
		return c.form > o.form
	}
	return c.total < o.total-objectiveEpsilon
}

// schedule builds daily loads: weekly steps of growth over the build, capped at
// peakCap x baseline, then a linear taper removing depth of the peak load
func schedule(baseline float64, buildDays, taperDays int, growth, depth, peakCap float64) []float64 {
	loads := make([]float64, 0, buildDays+taperDays)
	limit := baseline * peakCap

	for d := 0; d < buildDays; d++ {
		week := d / 7
		loads = append(loads, math.Min(baseline*math.Pow(1+growth, float64(week)), limit))
	}

	peak := baseline
	if len(loads) > 0 {
		peak = loads[len(loads)-1]
	}
	for d := 1; d <= taperDays; d++ {
		frac := float64(d) / float64(taperDays)
		loads = append(loads, peak*(1-depth*frac))
	}
	return loads
}

// phaseFunc labels build days: base for the first 40%, peak for the final
// build week (or fifth when shorter), build in between, then taper
func phaseFunc(buildDays int) func(int) store.Phase {
	baseDays := buildDays * 2 / 5
	peakDays := max(1, min(7, buildDays/5))
	return func(i int) store.Phase {
		switch {
		case i >= buildDays:
			return store.PhaseTaper
		case i >= buildDays-peakDays:
			return store.PhasePeak
		case i < baseDays:
			return store.PhaseBase
		default:
			return store.PhaseBuild
		}
	}
}

func fillPoints(traj *store.Trajectory, p store.BanisterParams, initial State, start time.Time, loads []float64, phase func(int) store.Phase) {
	states := SimulateFrom(p, initial, toDailyLoads(start, loads))
	traj.Points = make([]store.TrajectoryPoint, len(states))
	for i, s := range states {
		traj.Points[i] = store.TrajectoryPoint{
			Date:         s.Date,
			TargetStress: loads[i],
			Fitness:      s.Fitness,
			Fatigue:      s.Fatigue,
			Form:         s.Form,
			Phase:        phase(i),
		}
	}
	if len(states) > 0 {
		end := states[len(states)-1]
		traj.ProjectedPerformance = end.Performance
		traj.ProjectedForm = end.Form
	}
}

func toDailyLoads(start time.Time, loads []float64) []DailyLoad {
	out := make([]DailyLoad, len(loads))
	for i, w := range loads {
		out[i] = DailyLoad{Date: start.AddDate(0, 0, i), Stress: w}
	}
	return out
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
