// Package cli holds the operator commands. Analytical output is JSON on
// stdout; status lines go to stderr.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"adaptive-training/internal/config"
	"adaptive-training/internal/correlation"
	"adaptive-training/internal/lock"
	"adaptive-training/internal/logger"
	"adaptive-training/internal/metrics"
	"adaptive-training/internal/service"
	"adaptive-training/internal/store"
)

// app is the wiring shared by every command
type app struct {
	cfg     *config.Config
	log     logger.Logger
	db      *store.DB
	metrics *metrics.Manager
	svc     *service.Services
	closers []func() error
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type rootOptions struct {
	configPath string
	dbPath     string
	athleteID  string
	now        func() time.Time
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(time.Now)
}

func newRootCommand(now func() time.Time) *cobra.Command {
	opts := &rootOptions{now: now}
	a := &app{}

	root := &cobra.Command{
		Use:   "adaptive-training",
		Short: "Personalized training engine",
		Long: `adaptive-training fits an impulse-response model to each athlete's training
history, plans the load toward an event, tracks reproducible correlations in
daily check-ins, and produces a bounded daily adjustment.

Every command works on one athlete (--athlete) except schedule, which runs the
periodic jobs for all of them.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd, opts)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $ATE_CONFIG or ~/.adaptive-training/config.yaml)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides store.path)")
	flags.StringVarP(&opts.athleteID, "athlete", "a", "", "athlete id")

	root.AddCommand(
		newIngestCommand(a, opts),
		newCalibrateCommand(a, opts),
		newPlanCommand(a, opts),
		newCorrelateCommand(a, opts),
		newFindingsCommand(a, opts),
		newRecordsCommand(a, opts),
		newAdaptCommand(a, opts),
		newScheduleCommand(a, opts),
	)
	return root
}

// Execute runs the root command and prints any error
func Execute(ctx context.Context) error {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		printError(cmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

func (a *app) open(cmd *cobra.Command, opts *rootOptions) error {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		if _, statErr := os.Stat(opts.configPath); statErr != nil {
			return fmt.Errorf("%w: %s", config.ErrNoConfig, opts.configPath)
		}
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Store.Path = opts.dbPath
	}
	a.cfg = cfg

	a.log, err = logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.db, err = store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	locker, closeLocker := lock.New(cfg.Redis)
	a.closers = append(a.closers, closeLocker)

	a.metrics = metrics.NewManager(metrics.WithNamespace(cfg.Metrics.Namespace))

	a.svc = service.New(service.Deps{
		Store:    a.db,
		Config:   cfg,
		Locker:   locker,
		Registry: correlation.DefaultRegistry(),
		Metrics:  a.metrics,
		Log:      a.log,
		Now:      opts.now,
	})
	return nil
}

// athlete returns the --athlete flag or a usage error
func (o *rootOptions) athlete() (string, error) {
	if o.athleteID == "" {
		return "", errors.New("--athlete is required")
	}
	return o.athleteID, nil
}
