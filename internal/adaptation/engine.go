package adaptation

import (
	"math"
	"sort"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/store"
)

// Input is everything one daily evaluation may look at. It is gathered by the
// caller so Evaluate stays free of I/O.
type Input struct {
	AthleteID string
	Date      time.Time
	Params    store.BanisterParams
	Training  []store.TrainingSample
	Signals   []store.SignalSample
	Findings  []store.CorrelationFinding
	Plan      *store.Trajectory // nil when no event is planned
	Metrics   []correlation.MetricMeta

	// Previously recorded self-regulation entries. They fill days the current
	// plan no longer covers.
	Recorded []store.SelfRegulationEntry
}

// metric returns the registry metadata for an output. Unknown outputs are
// ambiguous.
func (in Input) metric(name string) correlation.MetricMeta {
	for _, m := range in.Metrics {
		if m.Name == name {
			return m
		}
	}
	return correlation.MetricMeta{Name: name, Polarity: correlation.Ambiguous}
}

// Snapshot is the model state at the end of the day before the decision
type Snapshot struct {
	Fitness  float64 `json:"fitness"`
	Fatigue  float64 `json:"fatigue"`
	Form     float64 `json:"form"`
	FormBand string  `json:"form_band"`
}

// Adjustment is the bounded change to today's planned load
type Adjustment struct {
	Multiplier     float64  `json:"multiplier"`
	IncreaseVetoed bool     `json:"increase_vetoed,omitempty"`
	PlannedStress  *float64 `json:"planned_stress,omitempty"`
	AdjustedStress *float64 `json:"adjusted_stress,omitempty"`
}

// Decision is the structured output of a daily evaluation. It carries codes and
// numbers only; phrasing is left to whoever consumes it.
type Decision struct {
	AthleteID        string                      `json:"athlete_id"`
	Date             time.Time                   `json:"date"`
	ParamsDefault    bool                        `json:"params_default"`
	ParamsConfidence store.Confidence            `json:"params_confidence"`
	State            Snapshot                    `json:"state"`
	Readiness        Readiness                   `json:"readiness"`
	Triggers         []Trigger                   `json:"triggers"`
	Adjustment       Adjustment                  `json:"adjustment"`
	SurfacedFindings []int64                     `json:"surfaced_findings,omitempty"`
	SelfRegulation   []store.SelfRegulationEntry `json:"self_regulation,omitempty"`
}

// Evaluate runs the readiness composite and every rule for in.Date. Inputs
// dated on or after in.Date do not affect the model state.
func Evaluate(in Input, t config.Tuning) Decision {
	day := analysis.Day(in.Date)
	yesterday := day.AddDate(0, 0, -1)

	var past []store.TrainingSample
	for _, s := range in.Training {
		if analysis.Day(s.Date).Before(day) {
			past = append(past, s)
		}
	}
	loads := analysis.DailyLoads(past, time.Time{}, yesterday)
	states := analysis.Simulate(in.Params, loads)
	state := analysis.State{Date: yesterday}
	if len(states) > 0 {
		state = states[len(states)-1]
	}

	c := &evalContext{
		in:      in,
		tuning:  t,
		day:     day,
		loads:   loads,
		states:  states,
		state:   state,
		selfReg: selfRegulation(in, day, t.Rules),
	}
	c.readiness = computeReadiness(in, state, t)

	d := Decision{
		AthleteID:        in.AthleteID,
		Date:             day,
		ParamsDefault:    in.Params.IsDefault,
		ParamsConfidence: in.Params.Confidence,
		State: Snapshot{
			Fitness:  state.Fitness,
			Fatigue:  state.Fatigue,
			Form:     state.Form,
			FormBand: analysis.FormDescription(state.Form, state.Fitness),
		},
		Readiness:      c.readiness,
		Triggers:       []Trigger{},
		SelfRegulation: c.selfReg,
	}

	for _, rule := range Rules(t) {
		fired := rule.Eval(c)
		if rule.MaxDaily > 0 && len(fired) > rule.MaxDaily {
			fired = fired[:rule.MaxDaily]
		}
		for _, tr := range fired {
			tr.Priority = rule.Priority
			d.Triggers = append(d.Triggers, tr)
			if tr.FindingID != 0 {
				d.SurfacedFindings = append(d.SurfacedFindings, tr.FindingID)
			}
		}
	}

	d.Adjustment.Multiplier, d.Adjustment.IncreaseVetoed = combine(d.Triggers, t.Rules)
	if in.Plan != nil {
		if p, ok := in.Plan.PointOn(day); ok {
			planned := p.TargetStress
			adjusted := planned * d.Adjustment.Multiplier
			d.Adjustment.PlannedStress = &planned
			d.Adjustment.AdjustedStress = &adjusted
		}
	}
	return d
}

// selfRegulation compares plan and actual over the adherence window ending
// yesterday. Only days with both a target and a recorded sample count.
func selfRegulation(in Input, day time.Time, r config.RulesTuning) []store.SelfRegulationEntry {
	from := day.AddDate(0, 0, -r.AdherenceWindowDays)

	actual := make(map[string]float64)
	for _, s := range in.Training {
		d := analysis.Day(s.Date)
		if d.Before(from) || !d.Before(day) {
			continue
		}
		actual[d.Format(store.DateLayout)] += s.Stress
	}

	byDate := make(map[string]store.SelfRegulationEntry)
	for _, e := range in.Recorded {
		d := analysis.Day(e.Date)
		if d.Before(from) || !d.Before(day) {
			continue
		}
		byDate[d.Format(store.DateLayout)] = e
	}

	if in.Plan != nil {
		for d := from; d.Before(day); d = d.AddDate(0, 0, 1) {
			key := d.Format(store.DateLayout)
			got, ok := actual[key]
			if !ok {
				continue
			}
			p, ok := in.Plan.PointOn(d)
			if !ok {
				continue
			}
			e := compare(p.TargetStress, got, r.AdherenceDeviationPct)
			e.AthleteID = in.AthleteID
			e.Date = d
			e.RecordedAt = in.Date
			if prev, ok := byDate[key]; ok {
				e.ID = prev.ID
			}
			byDate[key] = e
		}
	}

	entries := make([]store.SelfRegulationEntry, 0, len(byDate))
	for _, e := range byDate {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Date.Before(entries[j].Date)
	})
	return entries
}

// compare classifies one day's actual load against its target
func compare(planned, actual, tolerance float64) store.SelfRegulationEntry {
	e := store.SelfRegulationEntry{
		PlannedStress: planned,
		ActualStress:  actual,
		Deviation:     actual - planned,
		Direction:     store.DeviationOnPlan,
	}
	if planned == 0 {
		if actual > 0 {
			e.Direction = store.DeviationOver
		}
		return e
	}

	pct := e.Deviation / planned
	e.DeviationPct = &pct
	switch {
	case math.Abs(pct) <= tolerance:
	case pct > 0:
		e.Direction = store.DeviationOver
	default:
		e.Direction = store.DeviationUnder
	}
	return e
}
