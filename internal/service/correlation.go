package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/store"
)

// CorrelationService runs the correlation engine and reconciles its results
// into persisted findings
type CorrelationService struct {
	base
}

// RunRequest parameterizes one correlation run. A retry should reuse the
// RunID of the attempt it repeats so already-applied results are skipped.
type RunRequest struct {
	RunID   string
	Outputs []string
	Lags    []int
	Now     time.Time
}

// RunReport summarizes one correlation run
type RunReport struct {
	RunID     string                     `json:"run_id"`
	AthleteID string                     `json:"athlete_id"`
	Results   []correlation.Result       `json:"results"`
	Actions   map[correlation.Action]int `json:"actions"`
	Errors    []error                    `json:"-"`
}

// Run computes every (input, output, lag) triple in the athlete's recent
// window and reconciles each against its stored finding. A triple that cannot
// be persisted is reported and skipped; the rest of the run continues.
func (s *CorrelationService) Run(ctx context.Context, athleteID string, req RunRequest) (*RunReport, error) {
	defer s.Metrics.ObserveRun(KindCorrelation, time.Now())

	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Now.IsZero() {
		req.Now = s.Now()
	}

	report := &RunReport{
		RunID:     req.RunID,
		AthleteID: athleteID,
		Actions:   make(map[correlation.Action]int),
	}
	err := s.locked(ctx, athleteID, func() error {
		return s.run(ctx, athleteID, req, report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *CorrelationService) run(ctx context.Context, athleteID string, req RunRequest, report *RunReport) error {
	t, err := s.tuning(athleteID)
	if err != nil {
		return err
	}

	to := analysis.Day(req.Now)
	from := to.AddDate(0, 0, -t.Correlation.WindowDays)
	signals, err := s.Store.ListSignalSamples(ctx, athleteID, from, to)
	if err != nil {
		return fmt.Errorf("loading signal samples: %w", err)
	}

	engine := correlation.NewEngine(s.registry(ctx, athleteID, t), t.Correlation)
	report.Results = engine.Run(signals, correlation.Request{
		AthleteID: athleteID,
		Outputs:   req.Outputs,
		Lags:      req.Lags,
		From:      from,
		To:        to,
	})

	log := s.log.With(logger.Athlete(athleteID), logger.String("run_id", req.RunID))
	for _, res := range report.Results {
		s.Metrics.CorrelationResult(string(res.Note))

		var action correlation.Action
		err := retry(ctx, t.Persistence.Retries, func() error {
			_, err := s.Store.ReconcileFinding(ctx, res.Key(), func(existing *store.CorrelationFinding) (*store.CorrelationFinding, error) {
				next, a := correlation.Reconcile(existing, res, req.RunID, req.Now, t.Persistence)
				action = a
				return next, nil
			})
			return err
		})
		if err != nil {
			s.Metrics.PersistenceFailure()
			log.Error(ctx, "persisting finding",
				logger.String("input", res.Input),
				logger.String("output", res.Output),
				logger.Int("lag_days", res.Lag),
				logger.Err(err),
			)
			report.Errors = append(report.Errors, fmt.Errorf("persisting %s/%s lag %d: %w", res.Input, res.Output, res.Lag, err))
			continue
		}

		report.Actions[action]++
		s.Metrics.FindingAction(string(action))
	}

	if err := s.Store.RecordRun(ctx, store.RunKeyCorrelation, athleteID, req.Now); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("recording run: %w", err))
	}

	log.Info(ctx, "correlation run complete",
		logger.Int("results", len(report.Results)),
		logger.Int("created", report.Actions[correlation.ActionCreate]),
		logger.Int("confirmed", report.Actions[correlation.ActionConfirm]),
		logger.Int("faded", report.Actions[correlation.ActionFade]),
		logger.Int("errors", len(report.Errors)),
	)
	return nil
}

// Findings lists an athlete's findings. With eligibleOnly, only findings that
// may be surfaced at now are returned.
func (s *CorrelationService) Findings(ctx context.Context, athleteID string, eligibleOnly bool, now time.Time) ([]store.CorrelationFinding, error) {
	findings, err := s.Store.ListFindings(ctx, athleteID, eligibleOnly)
	if err != nil {
		return nil, fmt.Errorf("listing findings: %w", err)
	}
	if !eligibleOnly {
		return findings, nil
	}

	t, err := s.tuning(athleteID)
	if err != nil {
		return nil, err
	}
	return correlation.EligibleFindings(findings, now, t.Persistence), nil
}
