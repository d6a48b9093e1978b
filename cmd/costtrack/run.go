package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/evaluator"
	"mercator-hq/costtrack/pkg/cost/events"
	"mercator-hq/costtrack/pkg/server"
	"mercator-hq/costtrack/pkg/telemetry/health"
)

var runFlags struct {
	listenAddress string
	input         string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the cost tracking service",
	Long: `Start the cost tracking service with the specified configuration.

The service reads resource events from the configured input, applies them
to the price estimates, runs the evaluator on its schedule and serves
metrics and health endpoints until it receives SIGINT or SIGTERM.
SIGHUP re-reads the configuration file; only telemetry.logging.level may
change without a restart.

Examples:
  # Start with default config
  costtrack run

  # Read events from stdin
  costtrack run --input -

  # Override listen address
  costtrack run --listen 0.0.0.0:9090

  # Validate config without starting
  costtrack run --dry-run`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVarP(&runFlags.input, "input", "i", "", "override event input (file path, - for stdin)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runService(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if runFlags.dryRun {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	log := a.logger.Slog()

	fmt.Fprintf(out, "Costtrack v%s\n", Version)
	fmt.Fprintf(out, "✓ Store opened (%s)\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "✓ Topology loaded (%d resources)\n", len(a.graph.Resources()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, 2)
	fail := func(err error) {
		select {
		case failed <- err:
		default:
		}
	}

	bus, err := a.newBus(nil, func(ev events.Event, err error) {
		log.Error("Estimate invariant violated, stopping",
			"event_id", ev.ID.String(),
			"resource_id", ev.ResourceID,
			"error", err,
		)
		fail(fmt.Errorf("event %s: %w", ev.ID, err))
	})
	if err != nil {
		return err
	}

	var sched *evaluator.Scheduler
	if cfg.Evaluator.Enabled {
		eval, err := a.newEvaluator()
		if err != nil {
			return err
		}
		sched = evaluator.NewScheduler(eval, cfg.Evaluator.Schedule, cfg.Evaluator.RunOnStart)
		if err := sched.Start(ctx); err != nil {
			return cli.NewConfigError("evaluator.schedule", err.Error())
		}
		defer sched.Stop()
		fmt.Fprintf(out, "✓ Evaluator scheduled (%s)\n", cfg.Evaluator.Schedule)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Catalog.Watch && cfg.Catalog.File != "" {
		w, err := catalog.NewWatcher(a.catalog, cfg.Catalog.File, cfg.Catalog.WatchDebounce, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
		fmt.Fprintf(out, "✓ Watching price list %s\n", cfg.Catalog.File)
	}

	srv := server.New(cfg.Server, a.serverOptions(bus, sched)...)
	g.Go(func() error {
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	fmt.Fprintf(out, "✓ Server listening on %s\n", cfg.Server.ListenAddress)

	if cfg.Events.Input != "" {
		in, closeIn, err := openInput(cfg.Events.Input, cmd.InOrStdin())
		if err != nil {
			return err
		}
		defer closeIn()
		// Not part of the group: a read from stdin cannot be interrupted.
		go func() {
			if err := consume(gctx, in, bus, log); err != nil {
				fail(err)
			}
		}()
		fmt.Fprintf(out, "✓ Reading events from %s\n", inputName(cfg.Events.Input))
	}

	hup, stopHup := cli.ReloadSignal()
	defer stopHup()
	go func() {
		for {
			select {
			case <-gctx.Done():
				return
			case <-hup:
				_ = a.reload()
			}
		}
	}()

	fmt.Fprintln(out, "\nPress Ctrl+C to stop, send SIGHUP to reload the log level")

	var runErr error
	select {
	case <-gctx.Done():
	case runErr = <-failed:
	}
	if ctx.Err() != nil && runErr == nil {
		fmt.Fprintln(out, "\nShutting down gracefully...")
	}
	cancel()

	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := bus.Close(shutdownCtx); err != nil {
		log.Error("Event bus did not drain", "pending", bus.Pending(), "error", err)
		runErr = errors.Join(runErr, err)
	}

	if err := g.Wait(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return cli.NewCommandError("run", runErr)
	}
	fmt.Fprintln(out, "✓ Stopped")
	return nil
}

// serverOptions mounts metrics and health checks on the ops server.
func (a *app) serverOptions(bus *events.Bus, sched *evaluator.Scheduler) []server.Option {
	cfg := a.cfg
	opts := []server.Option{server.WithLogger(a.logger.Slog())}

	if a.collector.Enabled() {
		opts = append(opts, server.WithHandler(a.collector.Path(), a.collector.Handler()))
	}
	if !cfg.Telemetry.Health.Enabled {
		return opts
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.Register("store", health.PingCheck(a.store))
	checker.Register("catalog", func(ctx context.Context) error {
		_, err := a.catalog.Snapshot(ctx)
		return err
	})
	checker.Register("events", health.BacklogCheck(bus.Pending, cfg.Events.QueueSize))
	if sched != nil {
		if maxAge := staleAfter(cfg.Evaluator.Schedule); maxAge > 0 {
			checker.Register("evaluator", health.FreshnessCheck(sched.LastSuccess, maxAge))
		}
	}
	return append(opts, server.WithHealth(checker, cfg.Telemetry.Health, Version, GitCommit))
}

// staleAfter is how long the evaluator may go without a successful tick:
// three periods of schedule.
func staleAfter(schedule string) time.Duration {
	s, err := cron.ParseStandard(schedule)
	if err != nil {
		return 0
	}
	first := s.Next(time.Now())
	return 3 * s.Next(first).Sub(first)
}

// consume publishes every event read from r. Malformed lines are logged
// and skipped. It returns nil at the end of the input or when ctx is done.
func consume(ctx context.Context, r io.Reader, bus *events.Bus, log *slog.Logger) error {
	dec := events.NewDecoder(r)
	lastBad := -1
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			log.Info("Event input exhausted", "lines", dec.Line())
			return nil
		}
		if err != nil {
			if dec.Line() == lastBad {
				return fmt.Errorf("failed to read events: %w", err)
			}
			lastBad = dec.Line()
			log.Warn("Skipping malformed event", "error", err)
			continue
		}
		if err := bus.Publish(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to publish event %s: %w", ev.ID, err)
		}
	}
}

// openInput opens an event source. "-" is stdin.
func openInput(path string, stdin io.Reader) (io.Reader, func() error, error) {
	if path == "-" {
		return stdin, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event input: %w", err)
	}
	return f, f.Close, nil
}

func inputName(path string) string {
	if path == "-" {
		return "stdin"
	}
	return path
}
