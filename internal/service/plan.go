package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/config"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/store"
)

// PlanService builds and stores load trajectories toward events
type PlanService struct {
	base
}

// Plan computes the trajectory from today to eventDate and replaces any
// previous plan for that event
func (s *PlanService) Plan(ctx context.Context, athleteID string, eventDate, now time.Time) (*store.Trajectory, error) {
	defer s.Metrics.ObserveRun(KindPlan, time.Now())

	var traj *store.Trajectory
	err := s.locked(ctx, athleteID, func() error {
		t, err := s.tuning(athleteID)
		if err != nil {
			return err
		}
		p, err := s.params(ctx, athleteID, t, now)
		if err != nil {
			return err
		}
		traj, err = s.replan(ctx, p, t, eventDate, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return traj, nil
}

// Get returns the stored plan for an event
func (s *PlanService) Get(ctx context.Context, athleteID string, eventDate time.Time) (*store.Trajectory, error) {
	return s.Store.GetTrajectory(ctx, athleteID, analysis.Day(eventDate))
}

// replan regenerates one trajectory. The caller holds the athlete lock. Days
// of the previous plan that have already elapsed are carried over so planned
// vs actual stays comparable.
func (s *PlanService) replan(ctx context.Context, p store.BanisterParams, t config.Tuning, eventDate, now time.Time) (*store.Trajectory, error) {
	start := analysis.Day(now)
	history, err := s.Store.ListTrainingSamples(ctx, p.AthleteID, start.AddDate(0, 0, -PlanHistoryDays), start.AddDate(0, 0, -1))
	if err != nil {
		return nil, fmt.Errorf("loading training history: %w", err)
	}

	traj, err := analysis.PlanTrajectory(analysis.PlanInput{
		Params:    p,
		History:   history,
		Start:     start,
		EventDate: eventDate,
		Now:       now,
	}, t)
	if err != nil {
		return nil, err
	}

	prev, err := s.Store.GetTrajectory(ctx, p.AthleteID, traj.EventDate)
	switch {
	case errors.Is(err, store.ErrTrajectoryNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading previous trajectory: %w", err)
	default:
		var elapsed []store.TrajectoryPoint
		for _, pt := range prev.Points {
			if pt.Date.Before(start) {
				elapsed = append(elapsed, pt)
			}
		}
		traj.Points = append(elapsed, traj.Points...)
	}

	if err := s.Store.ReplaceTrajectory(ctx, traj); err != nil {
		return nil, fmt.Errorf("storing trajectory: %w", err)
	}

	s.log.Info(ctx, "trajectory planned",
		logger.Athlete(p.AthleteID),
		logger.String("event_date", traj.EventDate.Format(store.DateLayout)),
		logger.Int("taper_days", traj.TaperDays),
		logger.Bool("maintenance_only", traj.MaintenanceOnly),
		logger.Bool("params_default", p.IsDefault),
	)
	return traj, nil
}
