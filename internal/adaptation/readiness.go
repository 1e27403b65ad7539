package adaptation

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/store"
)

// Reasons a subjective input is left out of the readiness composite
const (
	ExcludeInsufficientCheckins = "insufficient_checkin_history"
	ExcludeNoConfirmedFinding   = "no_confirmed_finding"
	ExcludeUnsafeOutput         = "output_not_directionally_safe"
	ExcludeNoBaseline           = "no_baseline_variance"
)

// Component kinds
const (
	KindObjective  = "objective"
	KindSubjective = "subjective"
)

const maxZ = 3

// Component is one contributor to the readiness score
type Component struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Score     float64 `json:"score"` // 0-100
	Weight    float64 `json:"weight"`
	ZScore    float64 `json:"z_score,omitempty"`
	FindingID int64   `json:"finding_id,omitempty"`
}

// Exclusion records why an input did not contribute
type Exclusion struct {
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

// Readiness is the composite score and everything that went into it
type Readiness struct {
	Score       float64     `json:"score"`
	Objective   float64     `json:"objective"`
	CheckinDays int         `json:"checkin_days"`
	Components  []Component `json:"components"`
	Excluded    []Exclusion `json:"excluded,omitempty"`
}

// objectiveScore maps form relative to fitness onto 0-100, 50 being neutral
func objectiveScore(s analysis.State, minFitness float64) float64 {
	scale := math.Max(s.Fitness, minFitness)
	return clamp(50+50*s.Form/scale, 0, 100)
}

// computeReadiness blends the objective state with subjective inputs that a
// reproduced finding has tied to a directionally safe output. Raw inputs
// without that proof never contribute.
func computeReadiness(in Input, state analysis.State, t config.Tuning) Readiness {
	day := analysis.Day(in.Date)
	r := Readiness{Objective: objectiveScore(state, t.Readiness.MinFitness)}
	r.Components = append(r.Components, Component{
		Name:   "form",
		Kind:   KindObjective,
		Score:  r.Objective,
		Weight: t.Readiness.ObjectiveWeight,
	})

	var today *store.SignalSample
	checkins := make(map[string]bool)
	for i, s := range in.Signals {
		d := analysis.Day(s.Date)
		if d.After(day) || len(s.Inputs) == 0 {
			continue
		}
		checkins[d.Format(store.DateLayout)] = true
		if d.Equal(day) {
			today = &in.Signals[i]
		}
	}
	r.CheckinDays = len(checkins)

	var inputs []string
	if today != nil {
		for name := range today.Inputs {
			inputs = append(inputs, name)
		}
		sort.Strings(inputs)
	}

	for _, name := range inputs {
		if r.CheckinDays < t.Readiness.MinCheckinDays {
			r.Excluded = append(r.Excluded, Exclusion{Input: name, Reason: ExcludeInsufficientCheckins})
			continue
		}

		f, reason := linkingFinding(name, in, t.Persistence)
		if f == nil {
			r.Excluded = append(r.Excluded, Exclusion{Input: name, Reason: reason})
			continue
		}

		z, ok := zScore(name, today.Inputs[name], in.Signals, day, t.Readiness.BaselineWindowDays)
		if !ok {
			r.Excluded = append(r.Excluded, Exclusion{Input: name, Reason: ExcludeNoBaseline})
			continue
		}

		// orient so positive means better for the linked output
		if !helps(f.Correlation, in.metric(f.OutputMetric).Polarity) {
			z = -z
		}
		r.Components = append(r.Components, Component{
			Name:      name,
			Kind:      KindSubjective,
			Score:     clamp(50+z*50/maxZ, 0, 100),
			Weight:    f.Confidence * t.Readiness.SubjectiveWeight,
			ZScore:    z,
			FindingID: f.ID,
		})
	}

	var num, den float64
	for _, c := range r.Components {
		num += c.Score * c.Weight
		den += c.Weight
	}
	r.Score = r.Objective
	if den > 0 {
		r.Score = num / den
	}
	return r
}

// linkingFinding returns the strongest reproduced, active finding that ties
// input to a directionally safe output
func linkingFinding(input string, in Input, t config.PersistenceTuning) (*store.CorrelationFinding, string) {
	var best *store.CorrelationFinding
	sawUnsafe := false
	for i, f := range in.Findings {
		if f.InputName != input || !f.IsActive || f.TimesConfirmed < t.ReproducibilityThreshold {
			continue
		}
		if !in.metric(f.OutputMetric).Safe() {
			sawUnsafe = true
			continue
		}
		if best == nil || f.Confidence > best.Confidence {
			best = &in.Findings[i]
		}
	}
	if best != nil {
		return best, ""
	}
	if sawUnsafe {
		return nil, ExcludeUnsafeOutput
	}
	return nil, ExcludeNoConfirmedFinding
}

// zScore standardizes today's value against the input's own recent history
func zScore(input string, value float64, signals []store.SignalSample, day time.Time, window int) (float64, bool) {
	from := day.AddDate(0, 0, -window)
	var hist []float64
	for _, s := range signals {
		d := analysis.Day(s.Date)
		if d.Before(from) || !d.Before(day) {
			continue
		}
		if v, ok := s.Input(input); ok {
			hist = append(hist, v)
		}
	}
	if len(hist) < 2 {
		return 0, false
	}
	mean, std := stat.MeanStdDev(hist, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, false
	}
	return clamp((value-mean)/std, -maxZ, maxZ), true
}

func helps(r float64, p correlation.Polarity) bool {
	if p == correlation.LowerIsBetter {
		return r < 0
	}
	return r > 0
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
