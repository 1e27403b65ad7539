package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"

	"adaptive-training/internal/config"
	"adaptive-training/internal/logger"
)

// Scheduler runs the periodic jobs across every known athlete: nightly
// recalibration, correlation re-runs and the daily decision
type Scheduler struct {
	svc   *Services
	deps  Deps
	batch Batch
	cron  *cron.Cron
	log   logger.Logger
}

// NewScheduler registers the configured jobs. Empty specs disable a job.
func NewScheduler(svc *Services, cfg config.ScheduleConfig) (*Scheduler, error) {
	deps := svc.Calibration.Deps
	s := &Scheduler{
		svc:   svc,
		deps:  deps,
		batch: Batch{Concurrency: cfg.Concurrency, Log: deps.Log.Named("batch")},
		cron:  cron.New(),
		log:   deps.Log.Named("scheduler"),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) *BatchResult
	}{
		{KindCalibration, cfg.Recalibration, s.RunRecalibration},
		{KindCorrelation, cfg.Correlation, s.RunCorrelation},
		{KindAdaptation, cfg.Adaptation, s.RunAdaptation},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("scheduling %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler. Jobs already running finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) wrap(name string, run func(context.Context) *BatchResult) func() {
	return func() {
		ctx := context.Background()
		start := time.Now()
		res := run(ctx)
		s.log.Info(ctx, "scheduled job finished",
			logger.String("job", name),
			logger.Int("athletes", res.Athletes),
			logger.Int("succeeded", res.Succeeded),
			logger.Int("failed", len(res.Failed)),
			logger.Duration("took", time.Since(start)),
		)
	}
}

// RunRecalibration applies the materiality trigger for every athlete
func (s *Scheduler) RunRecalibration(ctx context.Context) *BatchResult {
	now := s.deps.Now()
	return s.forAll(ctx, func(ctx context.Context, id string) error {
		_, err := s.svc.Calibration.Calibrate(ctx, id, now, false)
		return err
	})
}

// RunCorrelation re-runs the correlation engine for every athlete
func (s *Scheduler) RunCorrelation(ctx context.Context) *BatchResult {
	now := s.deps.Now()
	return s.forAll(ctx, func(ctx context.Context, id string) error {
		report, err := s.svc.Correlation.Run(ctx, id, RunRequest{Now: now})
		if err != nil {
			return err
		}
		if len(report.Errors) > 0 {
			return fmt.Errorf("%d findings not persisted", len(report.Errors))
		}
		return nil
	})
}

// RunAdaptation produces today's decision for every athlete
func (s *Scheduler) RunAdaptation(ctx context.Context) *BatchResult {
	now := s.deps.Now()
	return s.forAll(ctx, func(ctx context.Context, id string) error {
		_, err := s.svc.Adaptation.Daily(ctx, id, now)
		return err
	})
}

func (s *Scheduler) forAll(ctx context.Context, fn func(context.Context, string) error) *BatchResult {
	athletes, err := s.deps.Store.ListAthletes(ctx)
	if err != nil {
		s.log.Error(ctx, "listing athletes", logger.Err(err))
		return &BatchResult{Failed: map[string]error{}}
	}
	return s.batch.ForEachAthlete(ctx, athletes, fn)
}
