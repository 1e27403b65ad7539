package adaptation

import (
	"math"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/store"
)

// Rule ids, in priority order
const (
	RuleOverloadWarning        = "overload_warning"
	RuleLowReadiness           = "low_readiness"
	RuleUnderloadDetraining    = "underload_detraining"
	RulePlanAdherenceDeviation = "plan_adherence_deviation"
	RuleCorrelationInsight     = "correlation_confirmed_insight"
)

const (
	acuteWindow   = 7
	chronicWindow = 28
)

// Evidence is the set of numbers that justified a trigger
type Evidence map[string]any

// Trigger is one rule firing
type Trigger struct {
	Rule       string   `json:"rule"`
	Priority   int      `json:"priority"`
	Adjustment float64  `json:"adjustment"` // fractional change to today's load, 0 if informational
	FindingID  int64    `json:"finding_id,omitempty"`
	Evidence   Evidence `json:"evidence"`
}

// Rule is a gating predicate plus evidence builder. Rules are independent:
// each sees the same context and never another rule's output.
type Rule struct {
	ID       string
	Priority int
	MaxDaily int
	Eval     func(c *evalContext) []Trigger
}

// evalContext is the shared, read-only view every rule evaluates against
type evalContext struct {
	in        Input
	tuning    config.Tuning
	day       time.Time
	loads     []analysis.DailyLoad // history through yesterday
	states    []analysis.State
	state     analysis.State // end of yesterday
	readiness Readiness
	selfReg   []store.SelfRegulationEntry
}

func (c *evalContext) historyDays() int {
	for i, dl := range c.loads {
		if dl.Stress > 0 {
			return len(c.loads) - i
		}
	}
	return 0
}

func (c *evalContext) planPhase() store.Phase {
	if c.in.Plan == nil {
		return ""
	}
	if p, ok := c.in.Plan.PointOn(c.day); ok {
		return p.Phase
	}
	return ""
}

// Rules returns the rule set in priority order
func Rules(t config.Tuning) []Rule {
	return []Rule{
		{ID: RuleOverloadWarning, Priority: 1, MaxDaily: t.Rules.OverloadMaxDaily, Eval: overloadWarning},
		{ID: RuleLowReadiness, Priority: 2, MaxDaily: t.Rules.LowReadinessMaxDaily, Eval: lowReadiness},
		{ID: RuleUnderloadDetraining, Priority: 3, MaxDaily: t.Rules.UnderloadMaxDaily, Eval: underloadDetraining},
		{ID: RulePlanAdherenceDeviation, Priority: 4, MaxDaily: t.Rules.AdherenceMaxDaily, Eval: planAdherence},
		{ID: RuleCorrelationInsight, Priority: 5, MaxDaily: t.Rules.MaxInsightsPerDay, Eval: correlationInsight},
	}
}

func loadRatio(loads []analysis.DailyLoad) (acute, chronic, ratio float64, ok bool) {
	acute = analysis.AverageStress(loads, acuteWindow)
	chronic = analysis.AverageStress(loads, chronicWindow)
	if chronic <= 0 {
		return acute, chronic, 0, false
	}
	return acute, chronic, acute / chronic, true
}

func overloadWarning(c *evalContext) []Trigger {
	r := c.tuning.Rules
	if c.historyDays() < r.MinHistoryDays {
		return nil
	}

	acute, chronic, acwr, ok := loadRatio(c.loads)
	spike := ok && acwr > r.OverloadACWR

	formRatio := 0.0
	deepFatigue := false
	if c.state.Fitness >= c.tuning.Readiness.MinFitness {
		formRatio = c.state.Form / c.state.Fitness
		deepFatigue = formRatio < r.OverloadFormRatio
	}

	if !spike && !deepFatigue {
		return nil
	}
	return []Trigger{{
		Rule:       RuleOverloadWarning,
		Adjustment: -r.OverloadReduction,
		Evidence: Evidence{
			"acute_load":      acute,
			"chronic_load":    chronic,
			"acwr":            acwr,
			"acwr_threshold":  r.OverloadACWR,
			"fitness":         c.state.Fitness,
			"form":            c.state.Form,
			"form_ratio":      formRatio,
			"form_threshold":  r.OverloadFormRatio,
			"load_spike":      spike,
			"deep_fatigue":    deepFatigue,
			"params_default":  c.in.Params.IsDefault,
			"params_tier":     c.in.Params.Confidence,
			"history_days":    c.historyDays(),
			"acute_window":    acuteWindow,
			"chronic_window":  chronicWindow,
			"reduction":       r.OverloadReduction,
			"readiness_score": c.readiness.Score,
		},
	}}
}

func lowReadiness(c *evalContext) []Trigger {
	r := c.tuning.Rules
	if c.historyDays() < r.MinHistoryDays || c.readiness.Score >= r.LowReadinessScore {
		return nil
	}
	return []Trigger{{
		Rule:       RuleLowReadiness,
		Adjustment: -r.LowReadinessReduction,
		Evidence: Evidence{
			"readiness_score": c.readiness.Score,
			"objective_score": c.readiness.Objective,
			"threshold":       r.LowReadinessScore,
			"components":      len(c.readiness.Components),
			"form":            c.state.Form,
			"fitness":         c.state.Fitness,
		},
	}}
}

func underloadDetraining(c *evalContext) []Trigger {
	r := c.tuning.Rules
	// a planned taper is not detraining
	if c.planPhase() == store.PhaseTaper || c.historyDays() < chronicWindow {
		return nil
	}

	acute, chronic, ratio, ok := loadRatio(c.loads)
	underload := ok && ratio < r.UnderloadRatio

	drop := 0.0
	detraining := false
	if back := len(c.states) - 1 - r.DetrainingDays; back >= 0 {
		before := c.states[back].Fitness
		if before >= c.tuning.Readiness.MinFitness {
			drop = (before - c.state.Fitness) / before
			detraining = drop > r.DetrainingDrop
		}
	}

	if !underload && !detraining {
		return nil
	}
	return []Trigger{{
		Rule:       RuleUnderloadDetraining,
		Adjustment: r.UnderloadIncrease,
		Evidence: Evidence{
			"acute_load":        acute,
			"chronic_load":      chronic,
			"load_ratio":        ratio,
			"ratio_threshold":   r.UnderloadRatio,
			"fitness":           c.state.Fitness,
			"fitness_drop":      drop,
			"drop_threshold":    r.DetrainingDrop,
			"drop_window_days":  r.DetrainingDays,
			"underload":         underload,
			"detraining":        detraining,
			"increase_fraction": r.UnderloadIncrease,
		},
	}}
}

func planAdherence(c *evalContext) []Trigger {
	r := c.tuning.Rules
	if len(c.selfReg) == 0 {
		return nil
	}

	var deviated []Evidence
	for _, e := range c.selfReg {
		if e.Direction == store.DeviationOnPlan {
			continue
		}
		row := Evidence{
			"date":      e.Date.Format(store.DateLayout),
			"planned":   e.PlannedStress,
			"actual":    e.ActualStress,
			"direction": e.Direction,
		}
		if e.DeviationPct != nil {
			row["deviation_pct"] = *e.DeviationPct
		}
		deviated = append(deviated, row)
	}
	if len(deviated) < r.AdherenceMinDays {
		return nil
	}
	return []Trigger{{
		Rule: RulePlanAdherenceDeviation,
		Evidence: Evidence{
			"deviated_days": len(deviated),
			"compared_days": len(c.selfReg),
			"window_days":   r.AdherenceWindowDays,
			"min_days":      r.AdherenceMinDays,
			"deviation_pct": r.AdherenceDeviationPct,
			"deviations":    deviated,
		},
	}}
}

func correlationInsight(c *evalContext) []Trigger {
	var out []Trigger
	for _, f := range correlation.EligibleFindings(c.in.Findings, c.day, c.tuning.Persistence) {
		meta := c.in.metric(f.OutputMetric)
		ev := Evidence{
			"input":           f.InputName,
			"output":          f.OutputMetric,
			"lag_days":        f.LagDays,
			"r":               f.Correlation,
			"p_value":         f.PValue,
			"n":               f.SampleSize,
			"times_confirmed": f.TimesConfirmed,
			"confidence":      f.Confidence,
			"polarity":        meta.Polarity,
		}
		if meta.Safe() {
			if helps(f.Correlation, meta.Polarity) {
				ev["interpretation"] = correlation.Helps
			} else {
				ev["interpretation"] = correlation.Hurts
			}
		}
		out = append(out, Trigger{
			Rule:      RuleCorrelationInsight,
			FindingID: f.ID,
			Evidence:  ev,
		})
	}
	return out
}

// combine bounds the summed adjustment. Any reduction vetoes every increase.
func combine(triggers []Trigger, r config.RulesTuning) (float64, bool) {
	var down, up float64
	for _, t := range triggers {
		switch {
		case t.Adjustment < 0:
			down += t.Adjustment
		case t.Adjustment > 0:
			up += t.Adjustment
		}
	}

	delta := up
	vetoed := false
	if down < 0 {
		delta = down
		vetoed = up > 0
	}
	m := 1 + delta
	m = math.Max(m, 1-r.MaxReduction)
	m = math.Min(m, 1+r.MaxIncrease)
	return m, vetoed
}
