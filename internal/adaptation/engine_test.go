package adaptation

import (
	"math"
	"testing"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/store"
)

var today = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return today.AddDate(0, 0, -n)
}

// history returns one sample per day from n days ago through yesterday.
// stress may skip a day by returning ok=false.
func history(n int, stress func(ago int) (float64, bool)) []store.TrainingSample {
	var out []store.TrainingSample
	for ago := n; ago >= 1; ago-- {
		if v, ok := stress(ago); ok {
			out = append(out, store.TrainingSample{AthleteID: "a1", Date: daysAgo(ago), Stress: v})
		}
	}
	return out
}

func flat(v float64) func(int) (float64, bool) {
	return func(int) (float64, bool) { return v, true }
}

func baseInput(training []store.TrainingSample) Input {
	return Input{
		AthleteID: "a1",
		Date:      today,
		Params:    analysis.DefaultParams("a1", config.DefaultTuning().Model, today),
		Training:  training,
		Metrics:   correlation.DefaultRegistry().Metrics(),
	}
}

func rules(d Decision) []string {
	var ids []string
	for _, t := range d.Triggers {
		ids = append(ids, t.Rule)
	}
	return ids
}

func TestEvaluateQuietHistory(t *testing.T) {
	d := Evaluate(baseInput(history(200, flat(50))), config.DefaultTuning())

	if len(d.Triggers) != 0 {
		t.Errorf("triggers = %v, want none", rules(d))
	}
	if d.Adjustment.Multiplier != 1 {
		t.Errorf("multiplier = %v, want 1", d.Adjustment.Multiplier)
	}
	if !d.ParamsDefault || d.ParamsConfidence != store.ConfidenceUncalibrated {
		t.Errorf("params = (%v, %s), want flagged population defaults", d.ParamsDefault, d.ParamsConfidence)
	}
	if d.Readiness.Score != d.Readiness.Objective {
		t.Errorf("score %v != objective %v without subjective inputs", d.Readiness.Score, d.Readiness.Objective)
	}
	if d.Date != today {
		t.Errorf("date = %v, want %v", d.Date, today)
	}
}

func TestEvaluateShortHistoryIsSilent(t *testing.T) {
	d := Evaluate(baseInput(history(10, flat(300))), config.DefaultTuning())

	if len(d.Triggers) != 0 {
		t.Errorf("triggers = %v, want none below the history gate", rules(d))
	}
	if d.Adjustment.Multiplier != 1 {
		t.Errorf("multiplier = %v, want 1", d.Adjustment.Multiplier)
	}
}

func TestEvaluateIgnoresTodayAndLater(t *testing.T) {
	training := history(60, flat(50))
	before := Evaluate(baseInput(training), config.DefaultTuning())

	training = append(training,
		store.TrainingSample{AthleteID: "a1", Date: today.Add(9 * time.Hour), Stress: 400},
		store.TrainingSample{AthleteID: "a1", Date: today.AddDate(0, 0, 3), Stress: 400},
	)
	after := Evaluate(baseInput(training), config.DefaultTuning())

	if before.State != after.State {
		t.Errorf("state moved from %+v to %+v on same-day data", before.State, after.State)
	}
}

func TestEvaluateOverload(t *testing.T) {
	// 21 steady days then a week at triple load
	training := history(28, func(ago int) (float64, bool) {
		if ago <= 7 {
			return 150, true
		}
		return 50, true
	})
	in := baseInput(training)
	in.Plan = &store.Trajectory{Points: []store.TrajectoryPoint{{Date: today, TargetStress: 100, Phase: store.PhaseBuild}}}

	tuning := config.DefaultTuning()
	d := Evaluate(in, tuning)

	got := rules(d)
	if len(got) != 2 || got[0] != RuleOverloadWarning || got[1] != RuleLowReadiness {
		t.Fatalf("triggers = %v, want [overload_warning low_readiness]", got)
	}
	if d.Triggers[0].Priority >= d.Triggers[1].Priority {
		t.Errorf("priorities %d, %d out of order", d.Triggers[0].Priority, d.Triggers[1].Priority)
	}

	ev := d.Triggers[0].Evidence
	if acwr := ev["acwr"].(float64); math.Abs(acwr-2) > 1e-9 {
		t.Errorf("acwr = %v, want 2", acwr)
	}
	if ev["params_default"] != true {
		t.Error("overload evidence must flag population-default parameters")
	}

	// two reductions sum past the floor
	want := 1 - tuning.Rules.MaxReduction
	if math.Abs(d.Adjustment.Multiplier-want) > 1e-12 {
		t.Errorf("multiplier = %v, want %v", d.Adjustment.Multiplier, want)
	}
	if d.Adjustment.PlannedStress == nil || *d.Adjustment.PlannedStress != 100 {
		t.Fatalf("planned = %v, want 100", d.Adjustment.PlannedStress)
	}
	if math.Abs(*d.Adjustment.AdjustedStress-100*want) > 1e-9 {
		t.Errorf("adjusted = %v, want %v", *d.Adjustment.AdjustedStress, 100*want)
	}
}

func TestEvaluateUnderload(t *testing.T) {
	training := history(60, func(ago int) (float64, bool) {
		if ago <= 7 {
			return 10, true
		}
		return 60, true
	})

	t.Run("build day", func(t *testing.T) {
		in := baseInput(training)
		in.Plan = &store.Trajectory{Points: []store.TrajectoryPoint{{Date: today, TargetStress: 50, Phase: store.PhaseBuild}}}
		d := Evaluate(in, config.DefaultTuning())

		got := rules(d)
		if len(got) != 1 || got[0] != RuleUnderloadDetraining {
			t.Fatalf("triggers = %v, want [underload_detraining]", got)
		}
		if math.Abs(d.Adjustment.Multiplier-1.1) > 1e-12 {
			t.Errorf("multiplier = %v, want 1.1", d.Adjustment.Multiplier)
		}
		if math.Abs(*d.Adjustment.AdjustedStress-55) > 1e-9 {
			t.Errorf("adjusted = %v, want 55", *d.Adjustment.AdjustedStress)
		}
	})

	t.Run("planned taper", func(t *testing.T) {
		in := baseInput(training)
		in.Plan = &store.Trajectory{Points: []store.TrajectoryPoint{{Date: today, TargetStress: 20, Phase: store.PhaseTaper}}}
		d := Evaluate(in, config.DefaultTuning())

		if len(d.Triggers) != 0 {
			t.Errorf("triggers = %v, want none during a planned taper", rules(d))
		}
	})
}

func TestCombine(t *testing.T) {
	r := config.DefaultTuning().Rules

	tests := []struct {
		name   string
		adj    []float64
		want   float64
		vetoed bool
	}{
		{"nothing", nil, 1, false},
		{"informational only", []float64{0, 0}, 1, false},
		{"single increase", []float64{0.1}, 1.1, false},
		{"increase capped", []float64{0.1, 0.3}, 1 + r.MaxIncrease, false},
		{"reduction vetoes increase", []float64{0.1, -0.2}, 0.8, true},
		{"reductions floored", []float64{-0.3, -0.2}, 1 - r.MaxReduction, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var triggers []Trigger
			for _, a := range tt.adj {
				triggers = append(triggers, Trigger{Adjustment: a})
			}
			got, vetoed := combine(triggers, r)
			if math.Abs(got-tt.want) > 1e-12 || vetoed != tt.vetoed {
				t.Errorf("combine = (%v, %v), want (%v, %v)", got, vetoed, tt.want, tt.vetoed)
			}
		})
	}
}

func finding(id int64, input, output string, r float64, tc int, conf float64) store.CorrelationFinding {
	return store.CorrelationFinding{
		ID: id, AthleteID: "a1", InputName: input, OutputMetric: output,
		Correlation: r, PValue: 0.01, SampleSize: 30,
		TimesConfirmed: tc, IsActive: true, Confidence: conf,
	}
}

func TestEvaluateInsights(t *testing.T) {
	in := baseInput(history(200, flat(50)))
	in.Findings = []store.CorrelationFinding{
		finding(1, "sleep_hours", "efficiency", 0.5, 4, 0.9),
		finding(2, "sleep_hours", "pace_at_effort", -0.6, 3, 0.8),
		finding(3, "soreness", "completion", -0.4, 5, 0.7),
		finding(4, "caffeine", "completion", 0.7, 2, 0.95),
	}

	d := Evaluate(in, config.DefaultTuning())

	if len(d.Triggers) != 2 {
		t.Fatalf("triggers = %v, want two insights", rules(d))
	}
	if len(d.SurfacedFindings) != 2 || d.SurfacedFindings[0] != 1 || d.SurfacedFindings[1] != 2 {
		t.Errorf("surfaced = %v, want [1 2]", d.SurfacedFindings)
	}

	// ambiguous output: bare statistic only
	if _, ok := d.Triggers[0].Evidence["interpretation"]; ok {
		t.Error("insight on an ambiguous output carries an interpretation")
	}
	if got := d.Triggers[1].Evidence["interpretation"]; got != correlation.Helps {
		t.Errorf("interpretation = %v, want helps", got)
	}
	if d.Adjustment.Multiplier != 1 {
		t.Errorf("insights must not move load, multiplier = %v", d.Adjustment.Multiplier)
	}
}

func TestEvaluateInsightCooldown(t *testing.T) {
	in := baseInput(history(200, flat(50)))
	recent := daysAgo(3)
	f := finding(1, "sleep_hours", "completion", 0.5, 4, 0.9)
	f.LastSurfacedAt = &recent
	in.Findings = []store.CorrelationFinding{f}

	if d := Evaluate(in, config.DefaultTuning()); len(d.SurfacedFindings) != 0 {
		t.Errorf("surfaced %v inside cooldown", d.SurfacedFindings)
	}
}

func TestEvaluateSelfRegulation(t *testing.T) {
	actual := map[int]float64{1: 50, 2: 70, 3: 30, 5: 20, 6: 10, 7: 55}
	training := history(207, func(ago int) (float64, bool) {
		if ago > 7 {
			return 50, true
		}
		v, ok := actual[ago]
		return v, ok
	})

	plan := &store.Trajectory{}
	for ago := 7; ago >= 0; ago-- {
		target := 50.0
		if ago == 6 {
			target = 0
		}
		plan.Points = append(plan.Points, store.TrajectoryPoint{Date: daysAgo(ago), TargetStress: target, Phase: store.PhaseBuild})
	}

	in := baseInput(training)
	in.Plan = plan
	in.Recorded = []store.SelfRegulationEntry{
		{ID: "keep-1", AthleteID: "a1", Date: daysAgo(1), Direction: store.DeviationOver},
		{ID: "keep-4", AthleteID: "a1", Date: daysAgo(4), PlannedStress: 40, Direction: store.DeviationOnPlan},
		{ID: "stale", AthleteID: "a1", Date: daysAgo(30), Direction: store.DeviationUnder},
	}

	d := Evaluate(in, config.DefaultTuning())

	want := map[int]string{
		7: store.DeviationOnPlan,
		6: store.DeviationOver,
		5: store.DeviationUnder,
		4: store.DeviationOnPlan,
		3: store.DeviationUnder,
		2: store.DeviationOver,
		1: store.DeviationOnPlan,
	}
	if len(d.SelfRegulation) != len(want) {
		t.Fatalf("len(self_regulation) = %d, want %d", len(d.SelfRegulation), len(want))
	}
	for i, e := range d.SelfRegulation {
		ago := analysis.DaysBetween(e.Date, today)
		if e.Direction != want[ago] {
			t.Errorf("day -%d direction = %s, want %s", ago, e.Direction, want[ago])
		}
		if i > 0 && !d.SelfRegulation[i-1].Date.Before(e.Date) {
			t.Error("entries not ordered by date")
		}
		switch ago {
		case 6:
			if e.DeviationPct != nil {
				t.Errorf("zero target has pct %v, want nil", *e.DeviationPct)
			}
		case 2:
			if e.DeviationPct == nil || math.Abs(*e.DeviationPct-0.4) > 1e-12 {
				t.Errorf("day -2 pct = %v, want 0.4", e.DeviationPct)
			}
		case 1:
			if e.ID != "keep-1" {
				t.Errorf("day -1 id = %q, want the recorded id", e.ID)
			}
		case 4:
			if e.ID != "keep-4" || e.PlannedStress != 40 {
				t.Errorf("day -4 = %+v, want the recorded entry untouched", e)
			}
		}
	}

	got := rules(d)
	if len(got) != 1 || got[0] != RulePlanAdherenceDeviation {
		t.Fatalf("triggers = %v, want [plan_adherence_deviation]", got)
	}
	if n := d.Triggers[0].Evidence["deviated_days"]; n != 4 {
		t.Errorf("deviated_days = %v, want 4", n)
	}
	if d.Triggers[0].Adjustment != 0 {
		t.Error("adherence is data, it must not adjust load")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name            string
		planned, actual float64
		direction       string
		pct             *float64
	}{
		{"exact", 50, 50, store.DeviationOnPlan, ptr(0)},
		{"within tolerance", 50, 59, store.DeviationOnPlan, ptr(0.18)},
		{"at tolerance", 50, 60, store.DeviationOnPlan, ptr(0.2)},
		{"over", 50, 75, store.DeviationOver, ptr(0.5)},
		{"under", 50, 25, store.DeviationUnder, ptr(-0.5)},
		{"rest day honored", 0, 0, store.DeviationOnPlan, nil},
		{"rest day trained", 0, 20, store.DeviationOver, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := compare(tt.planned, tt.actual, 0.2)
			if e.Direction != tt.direction {
				t.Errorf("direction = %s, want %s", e.Direction, tt.direction)
			}
			if e.Deviation != tt.actual-tt.planned {
				t.Errorf("deviation = %v, want %v", e.Deviation, tt.actual-tt.planned)
			}
			switch {
			case tt.pct == nil && e.DeviationPct != nil:
				t.Errorf("pct = %v, want nil", *e.DeviationPct)
			case tt.pct != nil && (e.DeviationPct == nil || math.Abs(*e.DeviationPct-*tt.pct) > 1e-12):
				t.Errorf("pct = %v, want %v", e.DeviationPct, *tt.pct)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }
