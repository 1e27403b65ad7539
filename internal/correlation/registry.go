package correlation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Polarity says which direction of an output metric is an improvement
type Polarity string

const (
	HigherIsBetter Polarity = "higher_is_better"
	LowerIsBetter  Polarity = "lower_is_better"
	// Ambiguous metrics can move the same way for different physiological
	// reasons, so no direction may be claimed for them.
	Ambiguous Polarity = "ambiguous"
)

// ErrMetricConflict is returned when a metric is registered with two polarities
var ErrMetricConflict = errors.New("conflicting metric polarity")

// ParsePolarity validates a polarity name
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(s); p {
	case HigherIsBetter, LowerIsBetter, Ambiguous:
		return p, nil
	default:
		return "", fmt.Errorf("unknown polarity %q", s)
	}
}

// MetricMeta describes one output metric
type MetricMeta struct {
	Name       string   `json:"name"`
	Polarity   Polarity `json:"polarity"`
	Conflicted bool     `json:"conflicted,omitempty"`
}

// Safe reports whether a helps/hurts claim may be made about the metric
func (m MetricMeta) Safe() bool {
	return !m.Conflicted && (m.Polarity == HigherIsBetter || m.Polarity == LowerIsBetter)
}

// Registry holds output metric metadata. Unknown metrics are ambiguous.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]MetricMeta
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]MetricMeta)}
}

// DefaultRegistry returns a registry with the built-in output metrics
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, p := range map[string]Polarity{
		"efficiency":         Ambiguous, // pace/HR ratio moves with either side
		"pace_at_effort":     LowerIsBetter,
		"completion":         HigherIsBetter,
		"personal_best":      HigherIsBetter,
		"aerobic_decoupling": LowerIsBetter,
		"resting_hr":         LowerIsBetter,
		"hrv":                HigherIsBetter,
	} {
		_ = r.Register(name, p)
	}
	return r
}

// Register records a metric's polarity. Re-registering with the same polarity
// is a no-op. A different polarity marks the metric conflicted for the life of
// the registry and returns ErrMetricConflict.
func (r *Registry) Register(name string, p Polarity) error {
	if _, err := ParsePolarity(string(p)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.metrics[name]
	if !ok {
		r.metrics[name] = MetricMeta{Name: name, Polarity: p}
		return nil
	}
	if existing.Polarity == p && !existing.Conflicted {
		return nil
	}

	existing.Conflicted = true
	r.metrics[name] = existing
	return fmt.Errorf("%w: %s registered as %s and %s", ErrMetricConflict, name, existing.Polarity, p)
}

// Override sets a metric's polarity in this registry, replacing an earlier
// registration. A conflicted metric stays conflicted.
func (r *Registry) Override(name string, p Polarity) error {
	if _, err := ParsePolarity(string(p)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.metrics[name]
	r.metrics[name] = MetricMeta{Name: name, Polarity: p, Conflicted: existing.Conflicted}
	return nil
}

// Clone returns an independent copy. Changes to either side are not seen by
// the other.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry()
	for name, m := range r.metrics {
		out.metrics[name] = m
	}
	return out
}

// Lookup returns a metric's metadata; unknown metrics come back ambiguous
func (r *Registry) Lookup(name string) MetricMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.metrics[name]; ok {
		return m
	}
	return MetricMeta{Name: name, Polarity: Ambiguous}
}

// IsSafe reports whether name is on the directionally safe whitelist
func (r *Registry) IsSafe(name string) bool {
	return r.Lookup(name).Safe()
}

// SafeMetrics returns the whitelist of directionally safe metrics, sorted
func (r *Registry) SafeMetrics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, m := range r.metrics {
		if m.Safe() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Conflicted returns metrics with contradictory registrations, sorted
func (r *Registry) Conflicted() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, m := range r.metrics {
		if m.Conflicted {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Metrics returns every registered metric sorted by name
func (r *Registry) Metrics() []MetricMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MetricMeta, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
