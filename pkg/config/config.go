package config

import "time"

// Config is the root configuration structure for costtrack.
// It contains the storage, price catalog, ownership topology, event
// processing, evaluator, telemetry, and ops server settings.
type Config struct {
	// Storage selects where estimates, consumption records, the catalog
	// and alerts are kept.
	Storage StorageConfig `yaml:"storage"`

	// Catalog contains price list caching and file import settings.
	Catalog CatalogConfig `yaml:"catalog"`

	// Topology points at the ownership tree.
	Topology TopologyConfig `yaml:"topology"`

	// Tracking contains cost accounting settings.
	Tracking TrackingConfig `yaml:"tracking"`

	// Events contains event bus configuration.
	Events EventsConfig `yaml:"events"`

	// Evaluator contains the periodic threshold evaluator settings.
	Evaluator EvaluatorConfig `yaml:"evaluator"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server contains the ops HTTP server configuration.
	Server ServerConfig `yaml:"server"`
}

// StorageConfig contains store configuration.
type StorageConfig struct {
	// Driver is the storage backend.
	// Options: "memory", "sqlite", "postgres"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres"`

	// TxTimeout bounds a single estimate transaction.
	// Default: 10s
	TxTimeout time.Duration `yaml:"tx_timeout"`

	// RebuildTimeout bounds the transaction of a month rebuild.
	// Default: 5m
	RebuildTimeout time.Duration `yaml:"rebuild_timeout"`
}

// SQLiteConfig contains SQLite database configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/costtrack.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long SQLite waits for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PostgresConfig contains PostgreSQL configuration.
type PostgresConfig struct {
	// DSN is the connection string, URL or keyword/value form.
	DSN string `yaml:"dsn"`

	// MaxOpenConns bounds the connection pool.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`
}

// CatalogConfig contains price catalog configuration.
type CatalogConfig struct {
	// CacheTTL is how long a loaded price list is served before reloading.
	// Default: 60s
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// File is an optional YAML price list imported at startup.
	File string `yaml:"file"`

	// Watch re-imports File when it changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce collapses bursts of file events.
	// Default: 500ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// TopologyConfig contains ownership tree configuration.
type TopologyConfig struct {
	// File is the YAML ownership tree (customers, projects, services,
	// links and resources).
	File string `yaml:"file"`
}

// TrackingConfig contains cost accounting configuration.
type TrackingConfig struct {
	// Timezone is the IANA zone months are cut in.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// ErrorPolicy applies to resources that enter an error state.
	// Options: "freeze", "continue"
	// Default: "freeze"
	ErrorPolicy string `yaml:"error_policy"`
}

// EventsConfig contains event bus configuration.
type EventsConfig struct {
	// Input is the JSON-lines event source read by the run command.
	// "-" reads standard input; empty disables event intake.
	Input string `yaml:"input"`

	// Workers is the number of event partitions.
	// Default: 8
	Workers int `yaml:"workers"`

	// QueueSize is the total event buffer.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// MaxAttempts bounds how often a retryable event is handled.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the first retry delay.
	// Default: 100ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	// Default: 5s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// HandleTimeout bounds a single handler call.
	// Default: 30s
	HandleTimeout time.Duration `yaml:"handle_timeout"`

	// DeadLetterFile receives events that exhausted their retries, one
	// JSON object per line. Empty keeps them in memory.
	DeadLetterFile string `yaml:"dead_letter_file"`
}

// EvaluatorConfig contains threshold evaluator configuration.
type EvaluatorConfig struct {
	// Enabled controls whether the run command schedules the evaluator.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is the cron expression of evaluator ticks.
	// Default: "@every 5m"
	Schedule string `yaml:"schedule"`

	// RunOnStart runs one tick when the scheduler starts.
	// Default: true
	RunOnStart bool `yaml:"run_on_start"`

	// AlertSeverity is the severity of threshold alerts.
	// Options: "info", "warning", "error"
	// Default: "warning"
	AlertSeverity string `yaml:"alert_severity"`

	// SyncResources re-reads resource consumables from their backend
	// adapters on every tick.
	// Default: false
	SyncResources bool `yaml:"sync_resources"`

	// SyncConcurrency bounds parallel adapter calls.
	// Default: 4
	SyncConcurrency int `yaml:"sync_concurrency"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets scrubs DSN passwords and tokens from log fields.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// ServiceName is the service name in traces.
	// Default: "costtrack"
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Timeout bounds span exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health/live"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/health/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// ServerConfig contains the ops HTTP server configuration.
type ServerConfig struct {
	// ListenAddress is the address and port for metrics and health.
	// Format: "host:port". Empty disables the server.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown, including draining queued events.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
