package cli

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"adaptive-training/internal/analysis"
	"adaptive-training/internal/service"
	"adaptive-training/internal/store"
)

func newIngestCommand(a *app, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Append training or check-in samples",
	}

	var file string
	training := &cobra.Command{
		Use:   "training",
		Short: "Ingest daily training stress",
		Long: `Ingest a JSON array of {"date": "YYYY-MM-DD", "stress": 62.5} records.
Samples already stored for a date are reported and left untouched. New
samples may trigger a recalibration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			records, err := readRecords[trainingRecord](file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			samples, err := trainingSamples(id, records)
			if err != nil {
				return err
			}

			res, err := a.svc.Ingest.IngestTraining(cmd.Context(), id, samples, opts.now())
			if err != nil {
				return err
			}
			printErrors(cmd.ErrOrStderr(), res.Errors)
			if res.Calibration != nil {
				printErrors(cmd.ErrOrStderr(), res.Calibration.Errors)
			}
			printSuccess(cmd.ErrOrStderr(), "stored %d training samples (%d duplicates)", res.Stored, res.Duplicates)
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	training.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")

	signals := &cobra.Command{
		Use:   "signals",
		Short: "Ingest daily check-ins and measured outputs",
		Long: `Ingest a JSON array of records like
{"date": "YYYY-MM-DD", "inputs": {"sleep_hours": 7.5}, "outputs": {"pace_at_effort": 301}}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			records, err := readRecords[signalRecord](file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			samples, err := signalSamples(id, records)
			if err != nil {
				return err
			}

			res, err := a.svc.Ingest.IngestSignals(cmd.Context(), id, samples)
			if err != nil {
				return err
			}
			printErrors(cmd.ErrOrStderr(), res.Errors)
			printSuccess(cmd.ErrOrStderr(), "stored %d check-ins (%d duplicates)", res.Stored, res.Duplicates)
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	signals.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")

	recorded := &cobra.Command{
		Use:   "sessions",
		Short: "Derive stress and outputs from recorded sessions",
		Long: `Ingest a JSON array of {"date": "YYYY-MM-DD", "points": [{"speed": 3.1, "hr": 142}, ...]}
records sampled once per second. Daily stress is the heart-rate training
impulse; efficiency, aerobic_decoupling and pace_at_effort are stored as
outputs when they can be measured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			records, err := readRecords[sessionRecord](file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			parsed, err := sessions(records)
			if err != nil {
				return err
			}

			res, err := a.svc.Ingest.IngestSessions(cmd.Context(), id, parsed, opts.now())
			if err != nil {
				return err
			}
			if res.Outputs != nil {
				printErrors(cmd.ErrOrStderr(), res.Outputs.Errors)
			}
			if res.Training != nil {
				printErrors(cmd.ErrOrStderr(), res.Training.Errors)
				printSuccess(cmd.ErrOrStderr(), "stored %d training days from %d sessions", res.Training.Stored, len(parsed))
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	recorded.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")

	cmd.AddCommand(training, signals, recorded)
	return cmd
}

func newCalibrateCommand(a *app, opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Fit the athlete's performance model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			report, err := a.svc.Calibration.Calibrate(cmd.Context(), id, opts.now(), force)
			if err != nil {
				return err
			}
			printErrors(cmd.ErrOrStderr(), report.Errors)
			switch {
			case report.Skipped:
				printSuccess(cmd.ErrOrStderr(), "parameters current, nothing to do (use --force to refit)")
			case report.Fallback != "":
				printWarning(cmd.ErrOrStderr(), "calibration fell back: %s", report.Fallback)
			default:
				printSuccess(cmd.ErrOrStderr(), "calibrated (%s), %d plans regenerated", report.Params.Confidence, report.Replanned)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "refit even if the parameters are current")
	return cmd
}

func newPlanCommand(a *app, opts *rootOptions) *cobra.Command {
	var (
		event string
		show  bool
		plot  bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan the load trajectory toward an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			eventDate, err := parseDate(event)
			if err != nil {
				return err
			}

			var traj *store.Trajectory
			if show {
				traj, err = a.svc.Plan.Get(cmd.Context(), id, eventDate)
			} else {
				traj, err = a.svc.Plan.Plan(cmd.Context(), id, eventDate, opts.now())
			}
			if err != nil {
				return err
			}

			if traj.MaintenanceOnly {
				printWarning(cmd.ErrOrStderr(), "too close to the event for a build; holding baseline load")
			}
			if plot {
				fmt.Fprintln(cmd.ErrOrStderr(), plotTrajectory(traj))
			}
			return writeJSON(cmd.OutOrStdout(), traj)
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "event date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&show, "show", false, "print the stored plan instead of replanning")
	cmd.Flags().BoolVar(&plot, "plot", false, "plot target stress to stderr")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func plotTrajectory(t *store.Trajectory) string {
	if len(t.Points) == 0 {
		return ""
	}
	stress := make([]float64, len(t.Points))
	for i, p := range t.Points {
		stress[i] = p.TargetStress
	}
	return asciigraph.Plot(stress,
		asciigraph.Height(12),
		asciigraph.Width(70),
		asciigraph.Precision(0),
		asciigraph.Caption(fmt.Sprintf("target stress to %s, taper %d days",
			t.EventDate.Format(store.DateLayout), t.TaperDays)),
	)
}

func newCorrelateCommand(a *app, opts *rootOptions) *cobra.Command {
	var req service.RunRequest
	cmd := &cobra.Command{
		Use:   "correlate",
		Short: "Run the correlation engine and reconcile findings",
		Long: `Correlate every check-in input against the requested outputs (default: the
configured outputs) at each lag, then update the stored findings. Re-running
with the same --run-id is a no-op for results already applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			req.Now = opts.now()

			report, err := a.svc.Correlation.Run(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			printErrors(cmd.ErrOrStderr(), report.Errors)
			printSuccess(cmd.ErrOrStderr(), "run %s: %d results, %s", report.RunID, len(report.Results), summarizeActions(report))
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVarP(&req.Outputs, "output", "o", nil, "output metric (repeatable)")
	cmd.Flags().IntSliceVar(&req.Lags, "lag", nil, "lag in days (repeatable)")
	cmd.Flags().StringVar(&req.RunID, "run-id", "", "reuse a run id when retrying")
	return cmd
}

func summarizeActions(r *service.RunReport) string {
	var parts []string
	for action, n := range r.Actions {
		parts = append(parts, fmt.Sprintf("%s=%d", action, n))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, " ")
}

func newFindingsCommand(a *app, opts *rootOptions) *cobra.Command {
	var eligible bool
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "List stored correlation findings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			findings, err := a.svc.Correlation.Findings(cmd.Context(), id, eligible, opts.now())
			if err != nil {
				return err
			}
			if findings == nil {
				findings = []store.CorrelationFinding{}
			}
			return writeJSON(cmd.OutOrStdout(), findings)
		},
	}
	cmd.Flags().BoolVar(&eligible, "eligible", false, "only findings that may be surfaced now")
	return cmd
}

func newRecordsCommand(a *app, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "records",
		Short: "List best efforts derived from recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			efforts, err := a.svc.Ingest.BestEfforts(cmd.Context(), id)
			if err != nil {
				return err
			}
			if efforts == nil {
				efforts = []store.BestEffort{}
			}
			return writeJSON(cmd.OutOrStdout(), efforts)
		},
	}
}

func newAdaptCommand(a *app, opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "adapt",
		Short: "Produce the daily readiness and load decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.athlete()
			if err != nil {
				return err
			}
			day := analysis.Day(opts.now())
			if date != "" {
				if day, err = parseDate(date); err != nil {
					return err
				}
			}

			d, err := a.svc.Adaptation.Daily(cmd.Context(), id, day)
			if err != nil {
				return err
			}
			if d.ParamsDefault {
				printWarning(cmd.ErrOrStderr(), "using population default parameters")
			}
			return writeJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "decision date (YYYY-MM-DD, default today)")
	return cmd
}
