// Package logging builds the structured loggers of costtrack.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON, text and console output
//   - Redaction of DSN passwords, bearer tokens and secret-looking keys
//   - Context fields (run_id, event_id, resource_id, scope, trace_id)
//   - Configurable log levels (debug, info, warn, error)
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    RedactSecrets: true,
//	})
//
//	// Components take the *slog.Logger.
//	tracker, err := cost.New(cost.Config{Logger: logger.Slog(), ...})
//
//	// Context fields are added by the handler.
//	ctx = logging.WithResourceID(ctx, "vm-42")
//	logger.InfoContext(ctx, "Resource estimate updated") // includes resource_id
//
// # Redaction
//
// With RedactSecrets enabled:
//
//   - postgres://user:secret@db/costtrack → postgres://user:***@db/costtrack
//   - password=secret → password=***
//   - Bearer abc.def → Bearer ***
//   - alice@example.com → a***@example.com
//
// Values of keys containing password, secret, token or api_key are replaced
// entirely.
package logging
