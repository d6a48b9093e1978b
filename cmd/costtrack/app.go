package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/config"
	"mercator-hq/costtrack/pkg/cost"
	"mercator-hq/costtrack/pkg/cost/alerts"
	"mercator-hq/costtrack/pkg/cost/backend"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/evaluator"
	"mercator-hq/costtrack/pkg/cost/events"
	"mercator-hq/costtrack/pkg/cost/storage"
	"mercator-hq/costtrack/pkg/scope"
	"mercator-hq/costtrack/pkg/telemetry/logging"
	"mercator-hq/costtrack/pkg/telemetry/metrics"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// app holds the components every command is built from.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	collector *metrics.Collector
	tracer    *tracing.Tracer

	store   storage.Store
	alerts  alerts.Sink
	catalog *catalog.Catalog
	graph   *scope.MemoryGraph
	tracker *cost.Tracker

	closers []func() error
}

// loadConfig reads the --config file with environment overrides and
// publishes it as the process-wide configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", cfgFile, err)
	}
	flagOverrides(cfg)
	config.SetConfig(cfg)
	return cfg, nil
}

// flagOverrides applies command-line flags on top of the file.
func flagOverrides(cfg *config.Config) {
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.input != "" {
		cfg.Events.Input = runFlags.input
	}
}

// reload re-reads the configuration file and applies the new log level.
// Anything else that changed is rejected until a restart.
func (a *app) reload() error {
	cfg, err := config.Reload(cfgFile, flagOverrides)
	if err != nil {
		a.logger.Warn("Configuration not reloaded", "path", cfgFile, "error", err)
		return err
	}
	if err := a.logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		return err
	}
	a.logger.Info("Configuration reloaded", "path", cfgFile, "log_level", cfg.Telemetry.Logging.Level)
	return nil
}

// newApp wires storage, the price list, the scope graph and the tracker
// from the configuration. Logs go to the command's error stream.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := logging.FromConfig(cfg.Telemetry.Logging)
	logCfg.Writer = cmd.ErrOrStderr()
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.SetDefault()

	a := &app{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(&cfg.Telemetry.Metrics, nil),
	}
	a.collector.SetBuildInfo(Version, GitCommit)

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger.Slog()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	a.tracer = tracer
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		return tracer.Shutdown(ctx)
	})

	repo, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	a.catalog = catalog.New(repo,
		catalog.WithTTL(cfg.Catalog.CacheTTL),
		catalog.WithLogger(log),
		catalog.WithLoadHook(a.collector.Catalog().LoadHook()),
	)
	if cfg.Catalog.File != "" {
		res, err := a.catalog.ImportFile(ctx, cfg.Catalog.File)
		if err != nil {
			return fmt.Errorf("failed to import price list: %w", err)
		}
		log.Debug("Price list imported", "file", cfg.Catalog.File, "defaults", res.Defaults, "overrides", res.Overrides)
	}

	if cfg.Topology.File != "" {
		if a.graph, err = scope.LoadTopology(cfg.Topology.File); err != nil {
			return err
		}
	} else {
		a.graph = scope.NewMemoryGraph()
	}

	loc, err := time.LoadLocation(cfg.Tracking.Timezone)
	if err != nil {
		return cli.NewConfigError("tracking.timezone", err.Error())
	}

	a.tracker, err = cost.New(cost.Config{
		Store:           a.store,
		Catalog:         a.catalog,
		Graph:           a.graph,
		Backends:        backend.NewRegistry(),
		Location:        loc,
		TxTimeout:       cfg.Storage.TxTimeout,
		RebuildTimeout:  cfg.Storage.RebuildTimeout,
		ErrorPolicy:     cost.ErrorPolicy(cfg.Tracking.ErrorPolicy),
		SyncConcurrency: cfg.Evaluator.SyncConcurrency,
		Logger:          log,
		Metrics:         a.collector.Cost(),
		Tracer:          tracer.Tracer(),
	})
	return err
}

// openStore opens the configured store and returns the price list
// repository that lives next to it.
func (a *app) openStore(ctx context.Context) (catalog.Repository, error) {
	cfg := a.cfg.Storage
	log := a.logger.Slog()

	var sqlCfg storage.SQLConfig
	switch cfg.Driver {
	case "memory":
		a.store = storage.NewMemoryStore()
		a.alerts = alerts.NewMemorySink()
		a.closers = append(a.closers, a.store.Close)
		return catalog.NewMemoryRepository(), nil
	case "sqlite":
		sqlCfg = storage.SQLConfig{
			Dialect:            storage.DialectSQLite,
			DSN:                cfg.SQLite.Path,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		}
	case "postgres":
		sqlCfg = storage.SQLConfig{
			Dialect:      storage.DialectPostgres,
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		}
	default:
		return nil, cli.NewConfigError("storage.driver", fmt.Sprintf("unsupported driver %q", cfg.Driver))
	}

	sqlCfg.Logger = log
	store, err := storage.OpenSQL(ctx, sqlCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	a.store = store
	a.alerts = store.Alerts()
	a.closers = append(a.closers, store.Close)

	if err := a.collector.RegisterStore(cfg.Driver, store.DB()); err != nil {
		log.Warn("Failed to register store metrics", "error", err)
	}
	log.Debug("Store opened", "driver", cfg.Driver, "dsn", logging.RedactDSN(sqlCfg.DSN))
	return store.Catalog(), nil
}

// newEvaluator builds the threshold and limit evaluator.
func (a *app) newEvaluator() (*evaluator.Evaluator, error) {
	log := a.logger.Slog()
	return evaluator.New(evaluator.Config{
		Tracker:       a.tracker,
		Alerts:        a.alerts,
		Notifier:      alerts.LogNotifier{Logger: log},
		Severity:      alerts.ParseSeverity(a.cfg.Evaluator.AlertSeverity),
		SyncResources: a.cfg.Evaluator.SyncResources,
		Logger:        log,
		Tracer:        a.tracer.Tracer(),
	})
}

// newBus builds the event bus feeding the tracker. Events that exhaust
// their retries go to the dead letter file, or are kept in memory when no
// file is configured.
func (a *app) newBus(observer events.Observer, onFatal func(events.Event, error)) (*events.Bus, error) {
	cfg := a.cfg.Events

	var dlq events.DeadLetterQueue
	if cfg.DeadLetterFile != "" {
		f, err := events.OpenFileDeadLetters(cfg.DeadLetterFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open dead letter file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		dlq = f
	} else {
		dlq = events.NewMemoryDeadLetters()
	}

	if observer == nil {
		observer = a.tracker.Metrics()
	}
	opts := []events.Option{
		events.WithClassifier(cost.Disposition),
		events.WithDeadLetters(dlq),
		events.WithObserver(observer),
		events.WithLogger(a.logger.Slog()),
	}
	if onFatal != nil {
		opts = append(opts, events.WithFatalHandler(onFatal))
	}

	return events.NewBus(a.tracker, &events.Config{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		HandleTimeout:  cfg.HandleTimeout,
	}, opts...), nil
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
