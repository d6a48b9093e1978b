package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "storage.driver").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration. All field errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateCatalog(&cfg.Catalog)...)
	errs = append(errs, validateTracking(&cfg.Tracking)...)
	errs = append(errs, validateEvents(&cfg.Events)...)
	errs = append(errs, validateEvaluator(&cfg.Evaluator)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.path",
				Message: "path is required for the sqlite driver",
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.busy_timeout",
				Message: "busy timeout must be non-negative",
			})
		}
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "storage.postgres.dsn",
				Message: "dsn is required for the postgres driver",
			})
		}
		if cfg.Postgres.MaxOpenConns < 1 {
			errs = append(errs, FieldError{
				Field:   "storage.postgres.max_open_conns",
				Message: "max open connections must be at least 1",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("invalid driver %q: must be 'memory', 'sqlite', or 'postgres'", cfg.Driver),
		})
	}

	if cfg.TxTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "storage.tx_timeout",
			Message: "transaction timeout must be positive",
		})
	}
	if cfg.RebuildTimeout < cfg.TxTimeout {
		errs = append(errs, FieldError{
			Field:   "storage.rebuild_timeout",
			Message: "rebuild timeout must not be shorter than the transaction timeout",
		})
	}

	return errs
}

func validateCatalog(cfg *CatalogConfig) []FieldError {
	var errs []FieldError

	if cfg.CacheTTL < 0 {
		errs = append(errs, FieldError{
			Field:   "catalog.cache_ttl",
			Message: "cache ttl must be non-negative",
		})
	}
	if cfg.Watch && cfg.File == "" {
		errs = append(errs, FieldError{
			Field:   "catalog.watch",
			Message: "watch requires catalog.file",
		})
	}

	return errs
}

func validateTracking(cfg *TrackingConfig) []FieldError {
	var errs []FieldError

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{
			Field:   "tracking.timezone",
			Message: fmt.Sprintf("unknown timezone %q", cfg.Timezone),
		})
	}

	switch cfg.ErrorPolicy {
	case "freeze", "continue":
	default:
		errs = append(errs, FieldError{
			Field:   "tracking.error_policy",
			Message: fmt.Sprintf("invalid error policy %q: must be 'freeze' or 'continue'", cfg.ErrorPolicy),
		})
	}

	return errs
}

func validateEvents(cfg *EventsConfig) []FieldError {
	var errs []FieldError

	if cfg.Workers < 1 {
		errs = append(errs, FieldError{
			Field:   "events.workers",
			Message: "workers must be at least 1",
		})
	}
	if cfg.QueueSize < cfg.Workers {
		errs = append(errs, FieldError{
			Field:   "events.queue_size",
			Message: "queue size must be at least the number of workers",
		})
	}
	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "events.max_attempts",
			Message: "max attempts must be at least 1",
		})
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		errs = append(errs, FieldError{
			Field:   "events.max_backoff",
			Message: "backoff must be positive and max backoff must not be below the initial backoff",
		})
	}
	if cfg.HandleTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "events.handle_timeout",
			Message: "handle timeout must be positive",
		})
	}

	return errs
}

func validateEvaluator(cfg *EvaluatorConfig) []FieldError {
	var errs []FieldError

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "evaluator.schedule",
			Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Schedule, err),
		})
	}

	validSeverities := map[string]bool{"info": true, "warning": true, "error": true}
	if !validSeverities[cfg.AlertSeverity] {
		errs = append(errs, FieldError{
			Field:   "evaluator.alert_severity",
			Message: fmt.Sprintf("invalid severity %q: must be 'info', 'warning', or 'error'", cfg.AlertSeverity),
		})
	}

	if cfg.SyncConcurrency < 1 {
		errs = append(errs, FieldError{
			Field:   "evaluator.sync_concurrency",
			Message: "sync concurrency must be at least 1",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		field := fmt.Sprintf("telemetry.logging.redact_patterns[%d]", i)
		if p.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   field + ".pattern",
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.Enabled {
		if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.liveness_path",
				Message: "liveness path must start with /",
			})
		}
		if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.readiness_path",
				Message: "readiness path must start with /",
			})
		}
		if cfg.Health.CheckTimeout <= 0 || cfg.Health.CheckTimeout > 60*time.Second {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.check_timeout",
				Message: "check timeout must be between 0 and 60s",
			})
		}
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "server.listen_address",
				Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
			})
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errs
}
