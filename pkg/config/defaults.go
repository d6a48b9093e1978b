package config

import "time"

// Default values for configuration fields.
const (
	// Storage defaults
	DefaultStorageDriver            = "sqlite"
	DefaultSQLitePath               = "data/costtrack.db"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultPostgresMaxOpenConns     = 10
	DefaultTxTimeout                = 10 * time.Second
	DefaultRebuildTimeout           = 5 * time.Minute

	// Catalog defaults
	DefaultCatalogCacheTTL      = 60 * time.Second
	DefaultCatalogWatchDebounce = 500 * time.Millisecond

	// Tracking defaults
	DefaultTimezone    = "UTC"
	DefaultErrorPolicy = "freeze"

	// Event defaults
	DefaultEventWorkers        = 8
	DefaultEventQueueSize      = 1024
	DefaultEventMaxAttempts    = 5
	DefaultEventInitialBackoff = 100 * time.Millisecond
	DefaultEventMaxBackoff     = 5 * time.Second
	DefaultEventHandleTimeout  = 30 * time.Second

	// Evaluator defaults
	DefaultEvaluatorSchedule        = "@every 5m"
	DefaultEvaluatorAlertSeverity   = "warning"
	DefaultEvaluatorSyncConcurrency = 4

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultPrometheusPath     = "/metrics"
	DefaultTracingServiceName = "costtrack"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health/live"
	DefaultReadinessPath      = "/health/ready"
	DefaultHealthCheckTimeout = 5 * time.Second

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Default returns a configuration with every default applied, including
// the boolean switches that are on by default.
func Default() *Config {
	cfg := &Config{}
	cfg.Evaluator.Enabled = true
	cfg.Evaluator.RunOnStart = true
	cfg.Telemetry.Logging.RedactSecrets = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.Insecure = true
	cfg.Telemetry.Health.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}
	if cfg.Storage.Postgres.MaxOpenConns == 0 {
		cfg.Storage.Postgres.MaxOpenConns = DefaultPostgresMaxOpenConns
	}
	if cfg.Storage.TxTimeout == 0 {
		cfg.Storage.TxTimeout = DefaultTxTimeout
	}
	if cfg.Storage.RebuildTimeout == 0 {
		cfg.Storage.RebuildTimeout = DefaultRebuildTimeout
	}

	// Catalog defaults
	if cfg.Catalog.CacheTTL == 0 {
		cfg.Catalog.CacheTTL = DefaultCatalogCacheTTL
	}
	if cfg.Catalog.WatchDebounce == 0 {
		cfg.Catalog.WatchDebounce = DefaultCatalogWatchDebounce
	}

	// Tracking defaults
	if cfg.Tracking.Timezone == "" {
		cfg.Tracking.Timezone = DefaultTimezone
	}
	if cfg.Tracking.ErrorPolicy == "" {
		cfg.Tracking.ErrorPolicy = DefaultErrorPolicy
	}

	// Event defaults
	if cfg.Events.Workers == 0 {
		cfg.Events.Workers = DefaultEventWorkers
	}
	if cfg.Events.QueueSize == 0 {
		cfg.Events.QueueSize = DefaultEventQueueSize
	}
	if cfg.Events.MaxAttempts == 0 {
		cfg.Events.MaxAttempts = DefaultEventMaxAttempts
	}
	if cfg.Events.InitialBackoff == 0 {
		cfg.Events.InitialBackoff = DefaultEventInitialBackoff
	}
	if cfg.Events.MaxBackoff == 0 {
		cfg.Events.MaxBackoff = DefaultEventMaxBackoff
	}
	if cfg.Events.HandleTimeout == 0 {
		cfg.Events.HandleTimeout = DefaultEventHandleTimeout
	}

	// Evaluator defaults
	if cfg.Evaluator.Schedule == "" {
		cfg.Evaluator.Schedule = DefaultEvaluatorSchedule
	}
	if cfg.Evaluator.AlertSeverity == "" {
		cfg.Evaluator.AlertSeverity = DefaultEvaluatorAlertSeverity
	}
	if cfg.Evaluator.SyncConcurrency == 0 {
		cfg.Evaluator.SyncConcurrency = DefaultEvaluatorSyncConcurrency
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
}
