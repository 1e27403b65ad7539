package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adaptive-training/internal/adaptation"
	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/store"
)

// AdaptationService produces the daily decision for an athlete and records
// what it surfaced
type AdaptationService struct {
	base
}

// Daily evaluates date for one athlete. Surfaced findings start their
// cooldown and self-regulation entries are upserted by day, so re-running the
// same date is safe.
func (s *AdaptationService) Daily(ctx context.Context, athleteID string, date time.Time) (*adaptation.Decision, error) {
	defer s.Metrics.ObserveRun(KindAdaptation, time.Now())

	var decision adaptation.Decision
	err := s.locked(ctx, athleteID, func() error {
		t, err := s.tuning(athleteID)
		if err != nil {
			return err
		}
		in, err := s.input(ctx, athleteID, date, t)
		if err != nil {
			return err
		}

		decision = adaptation.Evaluate(in, t)
		return s.record(ctx, &decision)
	})
	if err != nil {
		return nil, err
	}

	for _, tr := range decision.Triggers {
		s.Metrics.RuleTriggered(tr.Rule)
	}
	s.log.Info(ctx, "daily decision",
		logger.Athlete(athleteID),
		logger.String("date", decision.Date.Format(store.DateLayout)),
		logger.Float64("readiness", decision.Readiness.Score),
		logger.Int("triggers", len(decision.Triggers)),
		logger.Float64("multiplier", decision.Adjustment.Multiplier),
	)
	return &decision, nil
}

func (s *AdaptationService) input(ctx context.Context, athleteID string, date time.Time, t config.Tuning) (adaptation.Input, error) {
	var err error
	day := analysis.Day(date)
	from := day.AddDate(0, 0, -AdaptationHistoryDays)

	in := adaptation.Input{
		AthleteID: athleteID,
		Date:      day,
		Metrics:   s.registry(ctx, athleteID, t).Metrics(),
	}
	if in.Params, err = s.params(ctx, athleteID, t, date); err != nil {
		return in, err
	}
	if in.Training, err = s.Store.ListTrainingSamples(ctx, athleteID, from, day.AddDate(0, 0, -1)); err != nil {
		return in, fmt.Errorf("loading training samples: %w", err)
	}
	if in.Signals, err = s.Store.ListSignalSamples(ctx, athleteID, from, day); err != nil {
		return in, fmt.Errorf("loading signal samples: %w", err)
	}
	if in.Findings, err = s.Store.ListFindings(ctx, athleteID, false); err != nil {
		return in, fmt.Errorf("loading findings: %w", err)
	}

	plan, err := s.Store.GetUpcomingTrajectory(ctx, athleteID, day)
	switch {
	case errors.Is(err, store.ErrTrajectoryNotFound):
	case err != nil:
		return in, fmt.Errorf("loading trajectory: %w", err)
	default:
		in.Plan = plan
	}

	windowStart := day.AddDate(0, 0, -t.Rules.AdherenceWindowDays)
	if in.Recorded, err = s.Store.ListSelfRegulation(ctx, athleteID, windowStart, day.AddDate(0, 0, -1)); err != nil {
		return in, fmt.Errorf("loading self-regulation log: %w", err)
	}
	return in, nil
}

// record persists the side effects of a decision. The caller holds the lock.
func (s *AdaptationService) record(ctx context.Context, d *adaptation.Decision) error {
	for _, id := range d.SurfacedFindings {
		if err := s.Store.MarkSurfaced(ctx, id, d.Date); err != nil {
			return fmt.Errorf("marking finding %d surfaced: %w", id, err)
		}
	}

	now := s.Now()
	for i := range d.SelfRegulation {
		e := &d.SelfRegulation[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.RecordedAt = now
		if err := s.Store.UpsertSelfRegulation(ctx, e); err != nil {
			return fmt.Errorf("recording self-regulation for %s: %w", e.Date.Format(store.DateLayout), err)
		}
	}
	return nil
}
