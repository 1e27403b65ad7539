// Package metrics exposes Prometheus counters for engine runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets for run duration.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.buckets = buckets
		}
	}
}

// WithRegistry sets the registry metrics are registered on and served from.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// Manager owns every engine metric. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	calibrations        *prometheus.CounterVec
	calibrationFallback *prometheus.CounterVec
	correlationResults  *prometheus.CounterVec
	findingActions      *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	ruleTriggers        *prometheus.CounterVec
	lockContention      prometheus.Counter
	runDuration         *prometheus.HistogramVec
}

// NewManager creates and registers all metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "adaptive_training",
		buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.calibrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "calibrations_total",
		Help:      "Model calibrations by resulting confidence tier and parameter source.",
	}, []string{"tier", "source"})

	m.calibrationFallback = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "calibration_fallbacks_total",
		Help:      "Calibrations that fell back to previous or default parameters.",
	}, []string{"reason"})

	m.correlationResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "correlation_results_total",
		Help:      "Correlation results by note (significant, not_significant, insufficient_data, suppressed).",
	}, []string{"note"})

	m.findingActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "finding_actions_total",
		Help:      "Finding reconciliations by action.",
	}, []string{"action"})

	m.persistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "finding_persistence_failures_total",
		Help:      "Findings that could not be persisted after retries.",
	})

	m.ruleTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "adaptation_rule_triggers_total",
		Help:      "Adaptation rule firings by rule id.",
	}, []string{"rule"})

	m.lockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "athlete_lock_contention_total",
		Help:      "Athlete runs skipped because another run held the lock.",
	})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of per-athlete runs by kind.",
		Buckets:   m.buckets,
	}, []string{"kind"})

	m.registry.MustRegister(
		m.calibrations,
		m.calibrationFallback,
		m.correlationResults,
		m.findingActions,
		m.persistenceFailures,
		m.ruleTriggers,
		m.lockContention,
		m.runDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the backing registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Manager) Calibrated(tier, source string) {
	if m == nil {
		return
	}
	m.calibrations.WithLabelValues(tier, source).Inc()
}

func (m *Manager) CalibrationFallback(reason string) {
	if m == nil {
		return
	}
	m.calibrationFallback.WithLabelValues(reason).Inc()
}

func (m *Manager) CorrelationResult(note string) {
	if m == nil {
		return
	}
	m.correlationResults.WithLabelValues(note).Inc()
}

func (m *Manager) FindingAction(action string) {
	if m == nil {
		return
	}
	m.findingActions.WithLabelValues(action).Inc()
}

func (m *Manager) PersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Manager) RuleTriggered(rule string) {
	if m == nil {
		return
	}
	m.ruleTriggers.WithLabelValues(rule).Inc()
}

func (m *Manager) LockContended() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

// ObserveRun records how long a run of kind took, measured from start.
func (m *Manager) ObserveRun(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
