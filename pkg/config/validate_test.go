package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func hasField(err error, field string) bool {
	var verr ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	for _, fe := range verr.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.SQLite.Path = "" }, "storage.sqlite.path"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.postgres.dsn"},
		{"zero tx timeout", func(c *Config) { c.Storage.TxTimeout = 0 }, "storage.tx_timeout"},
		{"short rebuild timeout", func(c *Config) { c.Storage.RebuildTimeout = time.Second }, "storage.rebuild_timeout"},
		{"watch without file", func(c *Config) { c.Catalog.Watch = true }, "catalog.watch"},
		{"unknown timezone", func(c *Config) { c.Tracking.Timezone = "Mars/Olympus" }, "tracking.timezone"},
		{"unknown error policy", func(c *Config) { c.Tracking.ErrorPolicy = "ignore" }, "tracking.error_policy"},
		{"no workers", func(c *Config) { c.Events.Workers = 0 }, "events.workers"},
		{"small queue", func(c *Config) { c.Events.QueueSize = 2 }, "events.queue_size"},
		{"no attempts", func(c *Config) { c.Events.MaxAttempts = 0 }, "events.max_attempts"},
		{"inverted backoff", func(c *Config) { c.Events.MaxBackoff = time.Millisecond }, "events.max_backoff"},
		{"bad schedule", func(c *Config) { c.Evaluator.Schedule = "every five minutes" }, "evaluator.schedule"},
		{"bad severity", func(c *Config) { c.Evaluator.AlertSeverity = "critical" }, "evaluator.alert_severity"},
		{"no sync concurrency", func(c *Config) { c.Evaluator.SyncConcurrency = 0 }, "evaluator.sync_concurrency"},
		{"bad level", func(c *Config) { c.Telemetry.Logging.Level = "trace" }, "telemetry.logging.level"},
		{"bad format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"bad redact pattern", func(c *Config) {
			c.Telemetry.Logging.RedactPatterns = []RedactPattern{{Name: "broken", Pattern: "("}}
		}, "telemetry.logging.redact_patterns[0].pattern"},
		{"metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
		{"sample ratio", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 }, "telemetry.tracing.sample_ratio"},
		{"readiness path", func(c *Config) { c.Telemetry.Health.ReadinessPath = "ready" }, "telemetry.health.readiness_path"},
		{"listen address", func(c *Config) { c.Server.ListenAddress = "9090" }, "server.listen_address"},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "server.shutdown_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !hasField(err, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidate_MemoryDriverNeedsNoPaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "memory"
	cfg.Storage.SQLite.Path = ""

	if err := Validate(cfg); err != nil {
		t.Errorf("expected memory driver to validate, got %v", err)
	}
}

func TestValidate_EmptyListenAddressDisablesServer(t *testing.T) {
	cfg := Default()
	cfg.Server.ListenAddress = ""

	if err := Validate(cfg); err != nil {
		t.Errorf("expected empty listen address to validate, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "mysql"
	cfg.Tracking.ErrorPolicy = "ignore"
	cfg.Events.Workers = 0

	err := Validate(cfg)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	// events.queue_size is still >= 0 workers, so three fields fail.
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verr.Errors), verr)
	}
}

func TestValidationError_Error(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "storage.driver", Message: "bad"}}}
	if got := single.Error(); got != "configuration validation failed: storage.driver: bad" {
		t.Errorf("unexpected single error message: %q", got)
	}

	multi := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "one"},
		{Field: "b", Message: "two"},
	}}
	got := multi.Error()
	if !strings.Contains(got, "2 errors") || !strings.Contains(got, "  - b: two") {
		t.Errorf("unexpected multi error message: %q", got)
	}

	if got := (ValidationError{}).Error(); got != "configuration validation failed" {
		t.Errorf("unexpected empty error message: %q", got)
	}
}
