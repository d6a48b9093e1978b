package main

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommandExists(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}

	if versionCmd.Use != "version" {
		t.Errorf("versionCmd.Use = %q, want %q", versionCmd.Use, "version")
	}

	if versionCmd.Short == "" {
		t.Error("versionCmd.Short should not be empty")
	}

	if versionCmd.Run == nil {
		t.Error("versionCmd.Run should not be nil")
	}
}

func TestVersionOutput(t *testing.T) {
	origVersion, origGitCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origGitCommit }()

	Version = "0.1.0-test"
	GitCommit = "abc123"

	out := mustExecute(t, "version")
	for _, want := range []string{
		"Costtrack 0.1.0-test",
		"Git Commit: abc123",
		"Go Version: " + runtime.Version(),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{
		"run", "replay", "rebuild", "verify", "evaluate-thresholds",
		"dump-estimates", "set-threshold", "set-limit", "catalog", "version",
	}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q not registered", name)
		}
	}
}
