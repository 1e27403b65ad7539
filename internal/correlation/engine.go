// Package correlation discovers significance-gated relationships between daily
// input signals and training outputs, and tracks their reproducibility.
package correlation

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"adaptive-training/internal/config"
	"adaptive-training/internal/store"
)

// Note marks how a result fared against the significance gate
type Note string

const (
	NoteSignificant      Note = "significant"
	NoteNotSignificant   Note = "not_significant"
	NoteInsufficientData Note = "insufficient_data"
	NoteSuppressed       Note = "suppressed" // output metadata is contradictory
)

// Interpretation is a directional label, only for safe outputs
type Interpretation string

const (
	Helps Interpretation = "helps"
	Hurts Interpretation = "hurts"
)

// Request selects what one engine run computes. Empty Outputs or Lags fall
// back to the tuning; zero From/To leave the window open.
type Request struct {
	AthleteID string
	Outputs   []string
	Lags      []int
	From, To  time.Time
}

// Result is the statistic for one (input, output, lag) triple. R and P are nil
// whenever no honest value exists.
type Result struct {
	AthleteID      string         `json:"athlete_id"`
	Input          string         `json:"input"`
	Output         string         `json:"output"`
	Lag            int            `json:"lag_days"`
	N              int            `json:"n"`
	R              *float64       `json:"r,omitempty"`
	P              *float64       `json:"p_value,omitempty"`
	Note           Note           `json:"note"`
	Polarity       Polarity       `json:"polarity"`
	Interpretation Interpretation `json:"interpretation,omitempty"`
}

// Significant reports whether the result passed the gate
func (r Result) Significant() bool {
	return r.Note == NoteSignificant
}

// Key returns the natural key a finding for this result is stored under
func (r Result) Key() store.FindingKey {
	return store.FindingKey{
		AthleteID:    r.AthleteID,
		InputName:    r.Input,
		OutputMetric: r.Output,
		LagDays:      r.Lag,
	}
}

// Engine computes correlation results against a metric registry
type Engine struct {
	registry *Registry
	tuning   config.CorrelationTuning
}

// NewEngine creates an engine
func NewEngine(registry *Registry, tuning config.CorrelationTuning) *Engine {
	return &Engine{registry: registry, tuning: tuning}
}

// Run computes a result for every input present in the window against every
// requested output and lag. Failing triples are reported with a note, never
// dropped.
func (e *Engine) Run(samples []store.SignalSample, req Request) []Result {
	outputs := req.Outputs
	if len(outputs) == 0 {
		outputs = e.tuning.Outputs
	}
	lags := req.Lags
	if len(lags) == 0 {
		lags = e.tuning.Lags
	}
	lags = append([]int(nil), lags...)
	sort.Ints(lags)

	byDate := make(map[string]store.SignalSample)
	inputSet := make(map[string]bool)
	for _, s := range samples {
		if !inWindow(s.Date, req.From, req.To) {
			continue
		}
		byDate[s.Date.Format(store.DateLayout)] = s
		for name := range s.Inputs {
			inputSet[name] = true
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	inputs := make([]string, 0, len(inputSet))
	for name := range inputSet {
		inputs = append(inputs, name)
	}
	sort.Strings(inputs)

	var results []Result
	for _, input := range inputs {
		for _, output := range outputs {
			meta := e.registry.Lookup(output)
			for _, lag := range lags {
				x, y := pairs(byDate, dates, input, output, lag)
				results = append(results, e.evaluate(req.AthleteID, input, meta, lag, x, y))
			}
		}
	}
	return results
}

func (e *Engine) evaluate(athleteID, input string, meta MetricMeta, lag int, x, y []float64) Result {
	res := Result{
		AthleteID: athleteID,
		Input:     input,
		Output:    meta.Name,
		Lag:       lag,
		N:         len(x),
		Polarity:  meta.Polarity,
	}

	if meta.Conflicted {
		res.Note = NoteSuppressed
		return res
	}
	if res.N < e.tuning.MinSamples {
		res.Note = NoteInsufficientData
		return res
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		// one side never varies
		res.Note = NoteInsufficientData
		return res
	}
	r = math.Max(-1, math.Min(1, r))
	p := PValue(r, res.N)
	res.R, res.P = &r, &p

	if math.Abs(r) < e.tuning.MinEffect || p >= e.tuning.Alpha {
		res.Note = NoteNotSignificant
		return res
	}

	res.Note = NoteSignificant
	if meta.Safe() {
		res.Interpretation = interpret(r, meta.Polarity)
	}
	return res
}

// PValue is the two-sided p-value of Pearson r over n pairs, from a Student-t
// with n-2 degrees of freedom
func PValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := math.Abs(r) * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return math.Min(1, 2*(1-dist.CDF(t)))
}

func interpret(r float64, p Polarity) Interpretation {
	up := r > 0
	if p == LowerIsBetter {
		up = !up
	}
	if up {
		return Helps
	}
	return Hurts
}

// pairs joins input on day d with output on day d+lag, skipping days where
// either side is absent
func pairs(byDate map[string]store.SignalSample, dates []string, input, output string, lag int) ([]float64, []float64) {
	var x, y []float64
	for _, d := range dates {
		in, ok := byDate[d].Input(input)
		if !ok {
			continue
		}
		day, _ := time.Parse(store.DateLayout, d)
		later, ok := byDate[day.AddDate(0, 0, lag).Format(store.DateLayout)]
		if !ok {
			continue
		}
		out, ok := later.Output(output)
		if !ok {
			continue
		}
		x = append(x, in)
		y = append(y, out)
	}
	return x, y
}

func inWindow(d, from, to time.Time) bool {
	if !from.IsZero() && d.Before(from) {
		return false
	}
	if !to.IsZero() && d.After(to) {
		return false
	}
	return true
}
