package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/lock"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/metrics"
	"adaptive-training/internal/store"
)

// Deps are the collaborators shared by every service. Zero fields other than
// Store are filled with in-process defaults.
type Deps struct {
	Store    *store.DB
	Config   *config.Config
	Locker   lock.Locker
	Registry *correlation.Registry
	Metrics  *metrics.Manager
	Log      logger.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Config == nil {
		cfg := config.DefaultConfig()
		d.Config = &cfg
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker()
	}
	if d.Registry == nil {
		d.Registry = correlation.DefaultRegistry()
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Services bundles the engine's services over one set of dependencies
type Services struct {
	Ingest      *IngestService
	Calibration *CalibrationService
	Plan        *PlanService
	Correlation *CorrelationService
	Adaptation  *AdaptationService
}

// New wires every service
func New(d Deps) *Services {
	d = d.withDefaults()
	registerConfiguredMetrics(d)

	plan := &PlanService{base: newBase(d, "plan")}
	calibration := &CalibrationService{base: newBase(d, "calibration"), plans: plan}
	return &Services{
		Ingest:      &IngestService{base: newBase(d, "ingest"), calibration: calibration},
		Calibration: calibration,
		Plan:        plan,
		Correlation: &CorrelationService{base: newBase(d, "correlation")},
		Adaptation:  &AdaptationService{base: newBase(d, "adaptation")},
	}
}

type base struct {
	Deps
	log logger.Logger
}

func newBase(d Deps, name string) base {
	return base{Deps: d, log: d.Log.Named(name)}
}

func (b *base) tuning(athleteID string) (config.Tuning, error) {
	t, err := b.Config.TuningFor(athleteID)
	if err != nil {
		return config.Tuning{}, fmt.Errorf("loading tuning: %w", err)
	}
	return t, nil
}

// locked runs fn while holding the athlete's write lock
func (b *base) locked(ctx context.Context, athleteID string, fn func() error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, LockWait)
	defer cancel()

	release, err := b.Locker.Acquire(acquireCtx, lock.AthleteKey(athleteID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			b.Metrics.LockContended()
		}
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			b.log.Warn(ctx, "releasing athlete lock", logger.Athlete(athleteID), logger.Err(err))
		}
	}()

	return fn()
}

// params returns the athlete's stored parameters, or population defaults when
// none have been calibrated yet
func (b *base) params(ctx context.Context, athleteID string, t config.Tuning, now time.Time) (store.BanisterParams, error) {
	p, err := b.Store.GetBanisterParams(ctx, athleteID)
	if errors.Is(err, store.ErrParamsNotFound) {
		return analysis.DefaultParams(athleteID, t.Model, now), nil
	}
	if err != nil {
		return store.BanisterParams{}, fmt.Errorf("loading parameters: %w", err)
	}
	return *p, nil
}

// retry runs fn up to attempts+1 times with a linear backoff
func retry(ctx context.Context, attempts int, fn func() error) error {
	var err error
	for i := 0; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(i+1) * RetryBackoff):
		}
	}
	return err
}

// registerConfiguredMetrics adds the globally declared output polarities to
// the shared registry. A declaration that contradicts a built-in one marks the
// metric conflicted.
func registerConfiguredMetrics(d Deps) {
	for name, polarity := range d.Config.Tuning.Correlation.Metrics {
		p, err := correlation.ParsePolarity(polarity)
		if err == nil {
			err = d.Registry.Register(name, p)
		}
		if err != nil {
			d.Log.Warn(context.Background(), "output metric metadata rejected",
				logger.String("metric", name), logger.String("polarity", polarity), logger.Err(err))
		}
	}
}

// registry returns the output metrics as one athlete sees them: the shared
// registry with the athlete's own declarations on top. The shared registry is
// never written here.
func (b *base) registry(ctx context.Context, athleteID string, t config.Tuning) *correlation.Registry {
	global := b.Config.Tuning.Correlation.Metrics

	var reg *correlation.Registry
	for name, polarity := range t.Correlation.Metrics {
		if g, ok := global[name]; ok && g == polarity {
			continue
		}
		if reg == nil {
			reg = b.Registry.Clone()
		}
		p, err := correlation.ParsePolarity(polarity)
		if err == nil {
			err = reg.Override(name, p)
		}
		if err != nil {
			b.log.Warn(ctx, "output metric metadata rejected",
				logger.Athlete(athleteID), logger.String("metric", name), logger.String("polarity", polarity), logger.Err(err))
		}
	}
	if reg == nil {
		return b.Registry
	}
	return reg
}
