package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "costtrack.yaml"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention COSTTRACK_SECTION_FIELD (e.g., COSTTRACK_STORAGE_DRIVER).
// Environment variables always take precedence over file-based configuration.
//
// An empty path, or the default path when that file does not exist, starts
// from the built-in defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	switch {
	case path == "":
		cfg = Default()
	case path == DefaultPath && !exists(path):
		cfg = Default()
	default:
		var err error
		if cfg, err = readFile(path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	// Switches that default to on must survive a file that omits them.
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// envVar describes one COSTTRACK_* override.
type envVar struct {
	name  string
	apply func(val string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = i
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func float(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func envVars(cfg *Config) []envVar {
	return []envVar{
		// Storage
		{"COSTTRACK_STORAGE_DRIVER", str(&cfg.Storage.Driver)},
		{"COSTTRACK_STORAGE_SQLITE_PATH", str(&cfg.Storage.SQLite.Path)},
		{"COSTTRACK_STORAGE_SQLITE_BUSY_TIMEOUT", duration(&cfg.Storage.SQLite.BusyTimeout)},
		{"COSTTRACK_STORAGE_POSTGRES_DSN", str(&cfg.Storage.Postgres.DSN)},
		{"COSTTRACK_STORAGE_POSTGRES_MAX_OPEN_CONNS", integer(&cfg.Storage.Postgres.MaxOpenConns)},
		{"COSTTRACK_STORAGE_TX_TIMEOUT", duration(&cfg.Storage.TxTimeout)},
		{"COSTTRACK_STORAGE_REBUILD_TIMEOUT", duration(&cfg.Storage.RebuildTimeout)},

		// Catalog
		{"COSTTRACK_CATALOG_CACHE_TTL", duration(&cfg.Catalog.CacheTTL)},
		{"COSTTRACK_CATALOG_FILE", str(&cfg.Catalog.File)},
		{"COSTTRACK_CATALOG_WATCH", boolean(&cfg.Catalog.Watch)},

		// Topology
		{"COSTTRACK_TOPOLOGY_FILE", str(&cfg.Topology.File)},

		// Tracking
		{"COSTTRACK_TRACKING_TIMEZONE", str(&cfg.Tracking.Timezone)},
		{"COSTTRACK_TRACKING_ERROR_POLICY", str(&cfg.Tracking.ErrorPolicy)},

		// Events
		{"COSTTRACK_EVENTS_INPUT", str(&cfg.Events.Input)},
		{"COSTTRACK_EVENTS_WORKERS", integer(&cfg.Events.Workers)},
		{"COSTTRACK_EVENTS_QUEUE_SIZE", integer(&cfg.Events.QueueSize)},
		{"COSTTRACK_EVENTS_MAX_ATTEMPTS", integer(&cfg.Events.MaxAttempts)},
		{"COSTTRACK_EVENTS_INITIAL_BACKOFF", duration(&cfg.Events.InitialBackoff)},
		{"COSTTRACK_EVENTS_MAX_BACKOFF", duration(&cfg.Events.MaxBackoff)},
		{"COSTTRACK_EVENTS_DEAD_LETTER_FILE", str(&cfg.Events.DeadLetterFile)},

		// Evaluator
		{"COSTTRACK_EVALUATOR_ENABLED", boolean(&cfg.Evaluator.Enabled)},
		{"COSTTRACK_EVALUATOR_SCHEDULE", str(&cfg.Evaluator.Schedule)},
		{"COSTTRACK_EVALUATOR_SYNC_RESOURCES", boolean(&cfg.Evaluator.SyncResources)},
		{"COSTTRACK_EVALUATOR_SYNC_CONCURRENCY", integer(&cfg.Evaluator.SyncConcurrency)},

		// Telemetry
		{"COSTTRACK_TELEMETRY_LOGGING_LEVEL", str(&cfg.Telemetry.Logging.Level)},
		{"COSTTRACK_TELEMETRY_LOGGING_FORMAT", str(&cfg.Telemetry.Logging.Format)},
		{"COSTTRACK_TELEMETRY_METRICS_ENABLED", boolean(&cfg.Telemetry.Metrics.Enabled)},
		{"COSTTRACK_TELEMETRY_METRICS_PATH", str(&cfg.Telemetry.Metrics.Path)},
		{"COSTTRACK_TELEMETRY_TRACING_ENABLED", boolean(&cfg.Telemetry.Tracing.Enabled)},
		{"COSTTRACK_TELEMETRY_TRACING_ENDPOINT", str(&cfg.Telemetry.Tracing.Endpoint)},
		{"COSTTRACK_TELEMETRY_TRACING_SAMPLE_RATIO", float(&cfg.Telemetry.Tracing.SampleRatio)},

		// Server
		{"COSTTRACK_SERVER_LISTEN_ADDRESS", str(&cfg.Server.ListenAddress)},
		{"COSTTRACK_SERVER_SHUTDOWN_TIMEOUT", duration(&cfg.Server.ShutdownTimeout)},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Malformed values are reported as field errors.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	for _, v := range envVars(cfg) {
		val, ok := os.LookupEnv(v.name)
		if !ok || val == "" {
			continue
		}
		if err := v.apply(val); err != nil {
			errs = append(errs, FieldError{Field: v.name, Message: fmt.Sprintf("invalid value %q: %v", val, err)})
		}
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
