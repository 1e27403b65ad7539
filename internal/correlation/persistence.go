package correlation

import (
	"math"
	"sort"
	"time"

	"adaptive-training/internal/config"
	"adaptive-training/internal/store"
)

// Action is what reconciling one result did to its stored finding
type Action string

const (
	ActionCreate  Action = "create"
	ActionConfirm Action = "confirm"
	ActionFade    Action = "fade"
	ActionNoop    Action = "noop"
	ActionSkip    Action = "skip" // this run was already applied
)

// Confidence scales the base confidence |r|(1-p) up with reconfirmations,
// capped at 1
func Confidence(r, p float64, timesConfirmed int, boostStep float64) float64 {
	base := math.Abs(r) * (1 - p)
	boost := 1 + boostStep*float64(max(timesConfirmed-1, 0))
	return math.Min(1, base*boost)
}

// Reconcile computes the next state of a finding given this run's result.
// It returns nil when nothing should be written.
//
// A significant result creates the finding or confirms it (incrementing
// times_confirmed and reactivating it). A failing result fades an active
// finding, keeping its counters and last significant statistics. Findings are
// never deleted. Applying the same runID twice is a no-op, so a retried run
// cannot double count.
func Reconcile(existing *store.CorrelationFinding, res Result, runID string, now time.Time, t config.PersistenceTuning) (*store.CorrelationFinding, Action) {
	if res.Note == NoteSuppressed {
		return nil, ActionNoop
	}
	if existing != nil && existing.LastRunID == runID {
		return nil, ActionSkip
	}

	if res.Significant() && res.R != nil && res.P != nil {
		if existing == nil {
			return &store.CorrelationFinding{
				AthleteID:       res.AthleteID,
				InputName:       res.Input,
				OutputMetric:    res.Output,
				LagDays:         res.Lag,
				Correlation:     *res.R,
				PValue:          *res.P,
				SampleSize:      res.N,
				TimesConfirmed:  1,
				IsActive:        true,
				Confidence:      Confidence(*res.R, *res.P, 1, t.BoostStep),
				FirstDetectedAt: now,
				LastConfirmedAt: now,
				LastRunID:       runID,
				UpdatedAt:       now,
			}, ActionCreate
		}

		next := *existing
		next.Correlation = *res.R
		next.PValue = *res.P
		next.SampleSize = res.N
		next.TimesConfirmed++
		next.IsActive = true
		next.Confidence = Confidence(*res.R, *res.P, next.TimesConfirmed, t.BoostStep)
		next.LastConfirmedAt = now
		next.LastRunID = runID
		next.UpdatedAt = now
		return &next, ActionConfirm
	}

	if existing == nil || !existing.IsActive {
		return nil, ActionNoop
	}

	next := *existing
	next.IsActive = false
	next.LastRunID = runID
	next.UpdatedAt = now
	return &next, ActionFade
}

// Eligible reports whether a finding may be surfaced now: active, reproduced
// at least the threshold number of times, and outside its cooldown
func Eligible(f store.CorrelationFinding, now time.Time, t config.PersistenceTuning) bool {
	if !f.IsActive || f.TimesConfirmed < t.ReproducibilityThreshold {
		return false
	}
	if f.LastSurfacedAt == nil {
		return true
	}
	return now.Sub(*f.LastSurfacedAt) >= time.Duration(t.CooldownDays)*24*time.Hour
}

// EligibleFindings filters findings to the surfacing-eligible ones, highest
// confidence first
func EligibleFindings(findings []store.CorrelationFinding, now time.Time, t config.PersistenceTuning) []store.CorrelationFinding {
	var out []store.CorrelationFinding
	for _, f := range findings {
		if Eligible(f, now, t) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}
