package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/store"
)

// ErrInvalidSample is returned for samples that cannot be ingested as given
var ErrInvalidSample = errors.New("invalid sample")

// IngestService appends inbound samples. Stored samples are immutable.
type IngestService struct {
	base
	calibration *CalibrationService
}

// IngestResult contains the results of an ingest operation
type IngestResult struct {
	Stored      int                `json:"stored"`
	Duplicates  int                `json:"duplicates"`
	Calibration *CalibrationReport `json:"calibration,omitempty"`
	Errors      []error            `json:"-"`
}

// IngestTraining stores training samples for one athlete, then lets the
// materiality trigger decide whether to recalibrate
func (s *IngestService) IngestTraining(ctx context.Context, athleteID string, samples []store.TrainingSample, now time.Time) (*IngestResult, error) {
	result := &IngestResult{}

	err := s.locked(ctx, athleteID, func() error {
		for _, sample := range samples {
			sample.AthleteID = athleteID
			if err := validTraining(sample); err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			s.add(ctx, result, sample.Date, s.Store.AddTrainingSample(ctx, sample))
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	s.log.Info(ctx, "training samples ingested",
		logger.Athlete(athleteID),
		logger.Int("stored", result.Stored),
		logger.Int("duplicates", result.Duplicates),
	)

	if result.Stored > 0 {
		report, err := s.calibration.Calibrate(ctx, athleteID, now, false)
		if err != nil {
			return result, fmt.Errorf("calibrating: %w", err)
		}
		result.Calibration = report
	}
	return result, nil
}

// IngestSignals stores daily check-ins for one athlete
func (s *IngestService) IngestSignals(ctx context.Context, athleteID string, samples []store.SignalSample) (*IngestResult, error) {
	result := &IngestResult{}

	err := s.locked(ctx, athleteID, func() error {
		s.storeSignals(ctx, athleteID, samples, result)
		return nil
	})

	s.logSignals(ctx, athleteID, result)
	return result, err
}

// storeSignals appends signal samples. The caller holds the lock.
func (s *IngestService) storeSignals(ctx context.Context, athleteID string, samples []store.SignalSample, result *IngestResult) {
	for _, sample := range samples {
		sample.AthleteID = athleteID
		if err := validSignals(sample); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		s.add(ctx, result, sample.Date, s.Store.AddSignalSample(ctx, sample))
	}
}

func (s *IngestService) logSignals(ctx context.Context, athleteID string, result *IngestResult) {
	s.log.Info(ctx, "signal samples ingested",
		logger.Athlete(athleteID),
		logger.Int("stored", result.Stored),
		logger.Int("duplicates", result.Duplicates),
	)
}

// SessionResult reports both halves of a session ingest
type SessionResult struct {
	Training *IngestResult `json:"training"`
	Outputs  *IngestResult `json:"outputs"`
}

// IngestSessions derives daily stress and measured outputs from recorded
// sessions and ingests both. Best efforts are compared against the athlete's
// records to derive personal_best. Outputs go first so a triggered
// recalibration sees the new performance markers.
func (s *IngestService) IngestSessions(ctx context.Context, athleteID string, sessions []analysis.Session, now time.Time) (*SessionResult, error) {
	t, err := s.tuning(athleteID)
	if err != nil {
		return nil, err
	}
	training, outputs := analysis.SummarizeSessions(athleteID, sessions, t.Session)

	res := &SessionResult{Outputs: &IngestResult{}}
	err = s.locked(ctx, athleteID, func() error {
		bests, err := s.personalBests(ctx, athleteID, sessions)
		if err != nil {
			return err
		}
		outputs = withPersonalBests(athleteID, outputs, bests)
		s.storeSignals(ctx, athleteID, outputs, res.Outputs)
		return nil
	})
	s.logSignals(ctx, athleteID, res.Outputs)
	if err != nil {
		return res, err
	}

	res.Training, err = s.IngestTraining(ctx, athleteID, training, now)
	return res, err
}

// personalBests records each session's best efforts in date order and returns
// personal_best per day for days whose efforts were compared against an
// earlier record. The caller holds the lock.
func (s *IngestService) personalBests(ctx context.Context, athleteID string, sessions []analysis.Session) (map[string]float64, error) {
	sorted := slices.Clone(sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := make(map[string]float64)
	for _, session := range sorted {
		day := analysis.Day(session.Date)
		key := day.Format(store.DateLayout)

		for _, effort := range analysis.BestEfforts(session.Points) {
			improved, previous, err := s.Store.RecordBestEffort(ctx, store.BestEffort{
				AthleteID:       athleteID,
				Category:        effort.Category,
				DistanceMeters:  effort.DistanceMeters,
				DurationSeconds: effort.DurationSeconds,
				AvgHeartRate:    effort.AvgHeartRate,
				AchievedOn:      day,
			})
			if err != nil {
				return nil, fmt.Errorf("recording best effort: %w", err)
			}
			if previous == nil {
				// the first effort in a category sets the record, it doesn't beat one
				continue
			}
			if improved {
				out[key] = 1
				s.log.Info(ctx, "personal best",
					logger.Athlete(athleteID),
					logger.String("category", effort.Category),
					logger.Int("seconds", effort.DurationSeconds),
					logger.Int("previous_seconds", previous.DurationSeconds),
				)
			} else if _, ok := out[key]; !ok {
				out[key] = 0
			}
		}
	}
	return out, nil
}

// withPersonalBests adds personal_best to each day's output sample, creating
// the sample when the day produced no other output
func withPersonalBests(athleteID string, outputs []store.SignalSample, bests map[string]float64) []store.SignalSample {
	if len(bests) == 0 {
		return outputs
	}

	seen := make(map[string]bool, len(outputs))
	for i := range outputs {
		key := outputs[i].Date.Format(store.DateLayout)
		if v, ok := bests[key]; ok {
			outputs[i].Outputs[analysis.OutputPersonalBest] = v
		}
		seen[key] = true
	}
	for key, v := range bests {
		if seen[key] {
			continue
		}
		d, _ := time.Parse(store.DateLayout, key)
		outputs = append(outputs, store.SignalSample{
			AthleteID: athleteID,
			Date:      d,
			Outputs:   map[string]float64{analysis.OutputPersonalBest: v},
		})
	}
	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].Date.Before(outputs[j].Date)
	})
	return outputs
}

// BestEfforts lists the athlete's current best effort per distance
func (s *IngestService) BestEfforts(ctx context.Context, athleteID string) ([]store.BestEffort, error) {
	efforts, err := s.Store.ListBestEfforts(ctx, athleteID)
	if err != nil {
		return nil, fmt.Errorf("listing best efforts: %w", err)
	}
	return efforts, nil
}

func (s *IngestService) add(ctx context.Context, result *IngestResult, date time.Time, err error) {
	day := date.Format(store.DateLayout)
	switch {
	case err == nil:
		result.Stored++
	case errors.Is(err, store.ErrDuplicateSample):
		result.Duplicates++
		result.Errors = append(result.Errors, fmt.Errorf("%s: %w", day, err))
	default:
		s.log.Error(ctx, "storing sample", logger.String("date", day), logger.Err(err))
		result.Errors = append(result.Errors, fmt.Errorf("storing %s: %w", day, err))
	}
}

func validTraining(s store.TrainingSample) error {
	if s.AthleteID == "" || s.Date.IsZero() {
		return fmt.Errorf("%w: athlete and date are required", ErrInvalidSample)
	}
	if s.Stress < 0 || math.IsNaN(s.Stress) || math.IsInf(s.Stress, 0) {
		return fmt.Errorf("%w: %s stress %v", ErrInvalidSample, s.Date.Format(store.DateLayout), s.Stress)
	}
	return nil
}

func validSignals(s store.SignalSample) error {
	if s.AthleteID == "" || s.Date.IsZero() {
		return fmt.Errorf("%w: athlete and date are required", ErrInvalidSample)
	}
	for _, values := range []map[string]float64{s.Inputs, s.Outputs} {
		for name, v := range values {
			if name == "" || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s field %q = %v", ErrInvalidSample, s.Date.Format(store.DateLayout), name, v)
			}
		}
	}
	return nil
}
