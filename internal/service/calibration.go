package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/store"
)

// CalibrationService fits and caches an athlete's model parameters
type CalibrationService struct {
	base
	plans *PlanService
}

// CalibrationReport describes one calibration attempt
type CalibrationReport struct {
	Params    store.BanisterParams `json:"params"`
	Skipped   bool                 `json:"skipped"` // cached parameters still current
	Fallback  string               `json:"fallback,omitempty"`
	Refined   bool                 `json:"refined"`
	Markers   int                  `json:"markers"`
	Replanned int                  `json:"replanned"`
	Errors    []error              `json:"-"`
}

// Calibrate refits the model when enough new history has accumulated since the
// last calibration, or unconditionally when force is set. Stored trajectories
// for upcoming events are regenerated with the new parameters.
func (s *CalibrationService) Calibrate(ctx context.Context, athleteID string, now time.Time, force bool) (*CalibrationReport, error) {
	defer s.Metrics.ObserveRun(KindCalibration, time.Now())

	report := &CalibrationReport{}
	err := s.locked(ctx, athleteID, func() error {
		return s.calibrate(ctx, athleteID, now, force, report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *CalibrationService) calibrate(ctx context.Context, athleteID string, now time.Time, force bool, report *CalibrationReport) error {
	t, err := s.tuning(athleteID)
	if err != nil {
		return err
	}

	previous, err := s.Store.GetBanisterParams(ctx, athleteID)
	if err != nil && !errors.Is(err, store.ErrParamsNotFound) {
		return fmt.Errorf("loading parameters: %w", err)
	}

	count, err := s.Store.CountTrainingSamples(ctx, athleteID)
	if err != nil {
		return fmt.Errorf("counting samples: %w", err)
	}
	if !force && !analysis.NeedsRecalibration(previous, count, now, t.Model) {
		report.Params = *previous
		report.Skipped = true
		return nil
	}

	samples, err := s.Store.ListTrainingSamples(ctx, athleteID, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("loading training samples: %w", err)
	}
	signals, err := s.Store.ListSignalSamples(ctx, athleteID, time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("loading signal samples: %w", err)
	}

	markers := analysis.MarkersFromSignals(signals, t.Model.PerformanceMetric, t.Model.InvertPerformance)
	res := analysis.Calibrate(athleteID, samples, markers, previous, t.Model, now)

	if err := s.Store.SaveBanisterParams(ctx, &res.Params); err != nil {
		return fmt.Errorf("saving parameters: %w", err)
	}

	report.Params = res.Params
	report.Fallback = res.Fallback
	report.Refined = res.Refined
	report.Markers = res.Markers

	s.Metrics.Calibrated(string(res.Params.Confidence), res.Params.Source)
	fields := []logger.Field{
		logger.Athlete(athleteID),
		logger.String("confidence", string(res.Params.Confidence)),
		logger.String("source", res.Params.Source),
		logger.Int("markers", res.Markers),
		logger.Float64("tau_fitness", res.Params.TauFitness),
		logger.Float64("tau_fatigue", res.Params.TauFatigue),
	}
	if res.Fallback != "" {
		s.Metrics.CalibrationFallback(res.Fallback)
		s.log.Warn(ctx, "calibration fell back", append(fields, logger.String("reason", res.Fallback))...)
	} else {
		s.log.Info(ctx, "calibrated", fields...)
	}

	events, err := s.Store.ListTrajectoryEvents(ctx, athleteID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("listing planned events: %w", err))
	}
	today := analysis.Day(now)
	for _, event := range events {
		if !event.After(today) {
			continue
		}
		if _, err := s.plans.replan(ctx, res.Params, t, event, now); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("replanning %s: %w", event.Format(store.DateLayout), err))
			continue
		}
		report.Replanned++
	}

	if err := s.Store.RecordRun(ctx, store.RunKeyCalibration, athleteID, now); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("recording run: %w", err))
	}
	return nil
}
