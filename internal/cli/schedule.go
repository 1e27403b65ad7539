package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"adaptive-training/internal/logger"
	"adaptive-training/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newScheduleCommand(a *app, opts *rootOptions) *cobra.Command {
	var once string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the periodic jobs for every athlete",
		Long: `Run recalibration, correlation and the daily decision on their configured
cron schedules until interrupted. With --once, run a single job immediately
and exit. Metrics are served on metrics.addr when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := service.NewScheduler(a.svc, a.cfg.Schedule)
			if err != nil {
				return err
			}

			if once != "" {
				run, err := jobByName(s, once)
				if err != nil {
					return err
				}
				res := run(cmd.Context())
				for id, err := range res.Failed {
					printWarning(cmd.ErrOrStderr(), "%s: %v", id, err)
				}
				return writeJSON(cmd.OutOrStdout(), res)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, s)
		},
	}
	cmd.Flags().StringVar(&once, "once", "", "run one job now: calibration, correlation or adaptation")
	return cmd
}

func jobByName(s *service.Scheduler, name string) (func(context.Context) *service.BatchResult, error) {
	switch name {
	case service.KindCalibration:
		return s.RunRecalibration, nil
	case service.KindCorrelation:
		return s.RunCorrelation, nil
	case service.KindAdaptation:
		return s.RunAdaptation, nil
	}
	return nil, fmt.Errorf("unknown job %q", name)
}

func serve(ctx context.Context, a *app, s *service.Scheduler) error {
	var srv *http.Server
	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.log.Info(ctx, "serving metrics", logger.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error(ctx, "metrics server failed", logger.Err(err))
			}
		}()
	}

	s.Start()
	a.log.Info(ctx, "scheduler started",
		logger.String("recalibration", a.cfg.Schedule.Recalibration),
		logger.String("correlation", a.cfg.Schedule.Correlation),
		logger.String("adaptation", a.cfg.Schedule.Adaptation),
	)

	<-ctx.Done()
	s.Stop()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error(ctx, "metrics server shutdown failed", logger.Err(err))
		}
	}
	a.log.Info(ctx, "scheduler stopped")
	return nil
}
