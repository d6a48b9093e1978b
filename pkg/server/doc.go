// Package server provides the ops HTTP server of costtrack.
//
// The server exposes the Prometheus scrape endpoint and the health probes
// on a chi router. It carries no cost API; estimates are inspected through
// the CLI. Requests pass through request id, trace context extraction,
// access logging and panic recovery:
//
//	srv := server.New(cfg.Server,
//	    server.WithLogger(logger),
//	    server.WithHandler(cfg.Telemetry.Metrics.Path, collector.Handler()),
//	    server.WithHealth(checker, cfg.Telemetry.Health, version, commit),
//	)
//	err := srv.Start(ctx) // blocks until ctx is done, then shuts down
package server
