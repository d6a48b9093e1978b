package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func resetGlobal() {
	SetConfig(nil)
}

func TestReload_LogLevel(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	SetConfig(Default())

	path := writeConfig(t, "telemetry:\n  logging:\n    level: debug\n")
	cfg, err := Reload(path)
	if err != nil {
		t.Fatalf("failed to reload config: %v", err)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug level after reload, got %q", cfg.Telemetry.Logging.Level)
	}
	if GetConfig() != cfg {
		t.Error("expected reloaded configuration to become current")
	}
}

func TestReload_RestartRequired(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	original := Default()
	SetConfig(original)

	path := writeConfig(t, "events:\n  workers: 3\nserver:\n  listen_address: 127.0.0.1:9191\n")
	_, err := Reload(path)

	var restart *RestartRequiredError
	if !errors.As(err, &restart) {
		t.Fatalf("expected RestartRequiredError, got %v", err)
	}
	if want := []string{"events", "server"}; !reflect.DeepEqual(restart.Sections, want) {
		t.Errorf("sections = %v, want %v", restart.Sections, want)
	}
	if GetConfig() != original {
		t.Error("expected original configuration to stay")
	}
}

func TestReload_Overrides(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	current := Default()
	current.Server.ListenAddress = "127.0.0.1:9191"
	SetConfig(current)

	path := writeConfig(t, "telemetry:\n  logging:\n    level: warn\n")
	cfg, err := Reload(path, func(c *Config) { c.Server.ListenAddress = "127.0.0.1:9191" })
	if err != nil {
		t.Fatalf("expected flag override to be reapplied, got %v", err)
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9191" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
}

func TestReload_ValidationFailure(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	original := Default()
	SetConfig(original)

	path := writeConfig(t, "tracking:\n  error_policy: ignore\n")
	if _, err := Reload(path); err == nil {
		t.Fatal("expected reload to fail")
	}
	if GetConfig() != original {
		t.Error("expected original configuration to stay after failed reload")
	}
}

func TestReload_MissingFile(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	if _, err := Reload(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if GetConfig() != nil {
		t.Error("expected no configuration after failed reload")
	}
}
