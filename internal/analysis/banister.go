package analysis

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"adaptive-training/internal/config"
	"adaptive-training/internal/store"
)

// Calibration fallback reasons
const (
	FallbackInsufficientData = "insufficient_data"
	FallbackDegenerateFit    = "degenerate_fit"
	FallbackBelowTier        = "below_tier"
)

const (
	gridFitnessSteps = 14
	gridFatigueSteps = 10
	// objective value for parameter vectors outside the feasible region
	infeasible = 1e30
)

// PerformanceMarker is one observed performance value. Higher is better.
type PerformanceMarker struct {
	Date  time.Time
	Value float64
}

// CalibrationResult is the outcome of one calibration attempt
type CalibrationResult struct {
	Params   store.BanisterParams
	Fallback string // empty when Params were fitted from this history
	Refined  bool   // simplex search improved on the grid seed
	Markers  int
	Density  float64
}

// DefaultParams returns conservative population parameters, always tagged as
// defaults and never as an individual calibration
func DefaultParams(athleteID string, m config.ModelTuning, now time.Time) store.BanisterParams {
	return store.BanisterParams{
		AthleteID:    athleteID,
		TauFitness:   m.DefaultTauFitness,
		TauFatigue:   m.DefaultTauFatigue,
		KFitness:     m.DefaultKFitness,
		KFatigue:     m.DefaultKFatigue,
		Confidence:   store.ConfidenceUncalibrated,
		IsDefault:    true,
		Source:       store.SourcePopulationDefault,
		CalibratedAt: now,
	}
}

// MarkersFromSignals extracts one marker per day from a named output metric.
// Days without the metric yield no marker.
func MarkersFromSignals(signals []store.SignalSample, metric string, invert bool) []PerformanceMarker {
	var markers []PerformanceMarker
	for _, s := range signals {
		v, ok := s.Output(metric)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if invert {
			v = -v
		}
		markers = append(markers, PerformanceMarker{Date: Day(s.Date), Value: v})
	}
	sort.Slice(markers, func(i, j int) bool {
		return markers[i].Date.Before(markers[j].Date)
	})
	return markers
}

// NeedsRecalibration reports whether enough new history has accumulated to
// invalidate the cached parameters
func NeedsRecalibration(p *store.BanisterParams, samplesNow int, now time.Time, m config.ModelTuning) bool {
	if p == nil {
		return true
	}
	if samplesNow-p.SamplesUsed >= m.RecalibrateAfterSamples {
		return true
	}
	return DaysBetween(p.CalibratedAt, now) >= m.RecalibrateAfterDays
}

// Calibrate fits the impulse-response model to an athlete's history.
//
// Too little history yields population defaults. A degenerate fit yields the
// previous individualized parameters when they exist, else defaults.
func Calibrate(athleteID string, samples []store.TrainingSample, markers []PerformanceMarker, previous *store.BanisterParams, m config.ModelTuning, now time.Time) CalibrationResult {
	loads := DailyLoads(samples, time.Time{}, time.Time{})
	res := CalibrationResult{}

	if len(loads) == 0 {
		res.Params = DefaultParams(athleteID, m, now)
		res.Fallback = FallbackInsufficientData
		return res
	}

	span := len(loads)
	trainingDays := 0
	for _, dl := range loads {
		if dl.Stress > 0 {
			trainingDays++
		}
	}
	res.Density = float64(trainingDays) / float64(span)

	data := newFitData(loads, markers)
	res.Markers = len(data.y)

	if span < m.MinHistoryDays || res.Markers < m.MinMarkers {
		res.Params = DefaultParams(athleteID, m, now)
		res.Params.SamplesUsed = len(samples)
		res.Params.HistoryDays = span
		res.Fallback = FallbackInsufficientData
		return res
	}

	fit, refined, err := data.fit(m)
	if err != nil {
		res.Params = fallbackParams(athleteID, previous, m, now)
		res.Params.SamplesUsed = len(samples)
		res.Params.HistoryDays = span
		res.Fallback = FallbackDegenerateFit
		return res
	}
	res.Refined = refined

	r2 := fit.r2
	tier := confidenceTier(span, res.Density, res.Markers, r2, m)
	if tier == store.ConfidenceUncalibrated {
		res.Params = DefaultParams(athleteID, m, now)
		res.Params.SamplesUsed = len(samples)
		res.Params.HistoryDays = span
		res.Fallback = FallbackBelowTier
		return res
	}

	res.Params = store.BanisterParams{
		AthleteID:    athleteID,
		TauFitness:   fit.tauFitness,
		TauFatigue:   fit.tauFatigue,
		KFitness:     fit.kFitness,
		KFatigue:     fit.kFatigue,
		Offset:       fit.offset,
		Confidence:   tier,
		Source:       store.SourceFitted,
		FitR2:        &r2,
		SamplesUsed:  len(samples),
		HistoryDays:  span,
		CalibratedAt: now,
	}
	return res
}

func fallbackParams(athleteID string, previous *store.BanisterParams, m config.ModelTuning, now time.Time) store.BanisterParams {
	if previous == nil || previous.IsDefault {
		return DefaultParams(athleteID, m, now)
	}
	p := *previous
	p.Source = store.SourcePrevious
	p.CalibratedAt = now
	return p
}

// confidenceTier returns the highest tier whose every minimum is met
func confidenceTier(span int, density float64, markers int, r2 float64, m config.ModelTuning) store.Confidence {
	meets := func(t config.TierThreshold) bool {
		return span >= t.MinSpanDays && density >= t.MinDensity && markers >= t.MinMarkers && r2 >= t.MinR2
	}
	switch {
	case meets(m.High):
		return store.ConfidenceHigh
	case meets(m.Moderate):
		return store.ConfidenceModerate
	case meets(m.Low):
		return store.ConfidenceLow
	default:
		return store.ConfidenceUncalibrated
	}
}

var errDegenerate = errors.New("degenerate fit")

// fitData holds the daily stress series and markers aligned to day offsets
type fitData struct {
	stress []float64
	idx    []int // marker day offsets into stress, ascending
	y      []float64
}

func newFitData(loads []DailyLoad, markers []PerformanceMarker) *fitData {
	d := &fitData{stress: make([]float64, len(loads))}
	for i, dl := range loads {
		d.stress[i] = dl.Stress
	}
	if len(loads) == 0 {
		return d
	}

	first := loads[0].Date
	seen := make(map[int]bool)
	for _, mk := range markers {
		off := DaysBetween(first, mk.Date)
		if off < 0 || off >= len(loads) || seen[off] {
			continue
		}
		seen[off] = true
		d.idx = append(d.idx, off)
		d.y = append(d.y, mk.Value)
	}
	sort.Sort(byOffset{d})
	return d
}

type byOffset struct{ d *fitData }

func (b byOffset) Len() int           { return len(b.d.idx) }
func (b byOffset) Less(i, j int) bool { return b.d.idx[i] < b.d.idx[j] }
func (b byOffset) Swap(i, j int) {
	b.d.idx[i], b.d.idx[j] = b.d.idx[j], b.d.idx[i]
	b.d.y[i], b.d.y[j] = b.d.y[j], b.d.y[i]
}

// component returns the unit-gain response for tau sampled at marker days
func (d *fitData) component(tau float64) []float64 {
	out := make([]float64, len(d.idx))
	a := decay(tau)
	x := 0.0
	j := 0
	for i, w := range d.stress {
		x += (w - x) * a
		for j < len(d.idx) && d.idx[j] == i {
			out[j] = x
			j++
		}
	}
	return out
}

func (d *fitData) sse(f, g []float64, offset, k1, k2 float64) float64 {
	var s float64
	for i, y := range d.y {
		r := y - (offset + k1*f[i] - k2*g[i])
		s += r * r
	}
	return s
}

type fitResult struct {
	tauFitness, tauFatigue float64
	offset                 float64
	kFitness, kFatigue     float64
	sse                    float64
	r2                     float64
}

// linear solves offset and gains by least squares for fixed time constants
func (d *fitData) linear(tau1, tau2 float64) (fitResult, bool) {
	f, g := d.component(tau1), d.component(tau2)
	n := len(d.y)

	a := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, 1)
		a.Set(i, 1, f[i])
		a.Set(i, 2, -g[i])
	}
	b := mat.NewVecDense(n, append([]float64(nil), d.y...))

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fitResult{}, false
		}
	}

	r := fitResult{
		tauFitness: tau1,
		tauFatigue: tau2,
		offset:     x.AtVec(0),
		kFitness:   x.AtVec(1),
		kFatigue:   x.AtVec(2),
	}
	if r.kFitness <= 0 || r.kFatigue <= 0 || !finite(r.offset, r.kFitness, r.kFatigue) {
		return fitResult{}, false
	}
	r.sse = d.sse(f, g, r.offset, r.kFitness, r.kFatigue)
	return r, finite(r.sse)
}

// fit seeds a grid over the time constants, then refines all five parameters
// with Nelder-Mead in log space
func (d *fitData) fit(m config.ModelTuning) (fitResult, bool, error) {
	var sst, mean float64
	for _, y := range d.y {
		mean += y
	}
	mean /= float64(len(d.y))
	for _, y := range d.y {
		sst += (y - mean) * (y - mean)
	}
	if sst == 0 || !finite(sst) {
		return fitResult{}, false, errDegenerate
	}

	best := fitResult{sse: math.Inf(1)}
	for _, t1 := range geomSpace(m.TauFitnessMin, m.TauFitnessMax, gridFitnessSteps) {
		for _, t2 := range geomSpace(m.TauFatigueMin, m.TauFatigueMax, gridFatigueSteps) {
			if t1 <= t2 {
				continue
			}
			if r, ok := d.linear(t1, t2); ok && r.sse < best.sse {
				best = r
			}
		}
	}
	if math.IsInf(best.sse, 1) {
		return fitResult{}, false, errDegenerate
	}

	inBounds := func(t1, t2 float64) bool {
		return t1 >= m.TauFitnessMin && t1 <= m.TauFitnessMax &&
			t2 >= m.TauFatigueMin && t2 <= m.TauFatigueMax && t1 > t2
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			t1, t2 := math.Exp(x[0]), math.Exp(x[1])
			if !inBounds(t1, t2) || !finite(x...) {
				return infeasible
			}
			s := d.sse(d.component(t1), d.component(t2), x[2], math.Exp(x[3]), math.Exp(x[4]))
			if !finite(s) {
				return infeasible
			}
			return s
		},
	}
	x0 := []float64{
		math.Log(best.tauFitness), math.Log(best.tauFatigue), best.offset,
		math.Log(best.kFitness), math.Log(best.kFatigue),
	}

	refined := false
	res, err := optimize.Minimize(problem, x0, &optimize.Settings{FuncEvaluations: m.MaxEvaluations}, &optimize.NelderMead{})
	if err != nil && res == nil {
		return fitResult{}, false, errDegenerate
	}
	if res != nil && res.Status != optimize.Failure && finite(res.F) && res.F < best.sse {
		t1, t2 := math.Exp(res.X[0]), math.Exp(res.X[1])
		if inBounds(t1, t2) {
			best = fitResult{
				tauFitness: t1,
				tauFatigue: t2,
				offset:     res.X[2],
				kFitness:   math.Exp(res.X[3]),
				kFatigue:   math.Exp(res.X[4]),
				sse:        res.F,
			}
			refined = true
		}
	}

	if !finite(best.tauFitness, best.tauFatigue, best.offset, best.kFitness, best.kFatigue) || !inBounds(best.tauFitness, best.tauFatigue) {
		return fitResult{}, false, errDegenerate
	}
	best.r2 = 1 - best.sse/sst
	if !finite(best.r2) {
		return fitResult{}, false, errDegenerate
	}
	return best, refined, nil
}

func geomSpace(lo, hi float64, n int) []float64 {
	if n < 2 || hi <= lo {
		return []float64{lo}
	}
	out := make([]float64, n)
	ratio := math.Log(hi / lo)
	for i := range out {
		out[i] = lo * math.Exp(ratio*float64(i)/float64(n-1))
	}
	return out
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
