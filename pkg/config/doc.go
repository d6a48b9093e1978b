// Package config provides configuration management for costtrack.
//
// Configuration is read from a YAML file (costtrack.yaml by default) with
// environment variable overrides:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("costtrack.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention COSTTRACK_SECTION_FIELD:
//
//   - COSTTRACK_STORAGE_DRIVER overrides storage.driver
//   - COSTTRACK_STORAGE_POSTGRES_DSN overrides storage.postgres.dsn
//   - COSTTRACK_TRACKING_TIMEZONE overrides tracking.timezone
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Command line flags, applied by cmd/costtrack
//
// Validation runs after step 3 and reports every invalid field at once.
//
// # Singleton
//
// SetConfig and GetConfig hold the process-wide configuration. Reload
// re-reads the file on SIGHUP; only the log level may change at runtime.
package config
