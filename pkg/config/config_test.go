package config

import (
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestDefault_Switches(t *testing.T) {
	cfg := Default()

	if !cfg.Evaluator.Enabled {
		t.Error("expected evaluator to be enabled by default")
	}
	if !cfg.Evaluator.RunOnStart {
		t.Error("expected evaluator to run on start by default")
	}
	if cfg.Evaluator.SyncResources {
		t.Error("expected resource sync to be off by default")
	}
	if !cfg.Telemetry.Logging.RedactSecrets {
		t.Error("expected secret redaction by default")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics to be enabled by default")
	}
	if cfg.Telemetry.Tracing.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.Catalog.Watch {
		t.Error("expected catalog watch to be off by default")
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"storage.driver", cfg.Storage.Driver, "sqlite"},
		{"storage.tx_timeout", cfg.Storage.TxTimeout, 10 * time.Second},
		{"catalog.cache_ttl", cfg.Catalog.CacheTTL, 60 * time.Second},
		{"tracking.timezone", cfg.Tracking.Timezone, "UTC"},
		{"tracking.error_policy", cfg.Tracking.ErrorPolicy, "freeze"},
		{"events.workers", cfg.Events.Workers, 8},
		{"events.queue_size", cfg.Events.QueueSize, 1024},
		{"events.max_attempts", cfg.Events.MaxAttempts, 5},
		{"events.initial_backoff", cfg.Events.InitialBackoff, 100 * time.Millisecond},
		{"events.max_backoff", cfg.Events.MaxBackoff, 5 * time.Second},
		{"evaluator.schedule", cfg.Evaluator.Schedule, "@every 5m"},
		{"evaluator.sync_concurrency", cfg.Evaluator.SyncConcurrency, 4},
		{"server.listen_address", cfg.Server.ListenAddress, "127.0.0.1:9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}
