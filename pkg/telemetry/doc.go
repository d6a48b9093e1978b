// Package telemetry groups the observability of costtrack.
//
//   - logging: structured slog logging with secret redaction and context
//     fields (run, scope, event and resource ids)
//   - metrics: the Prometheus registry, cost and catalog collectors and the
//     scrape handler
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness probes
//
// The ops server (package server) serves metrics and health; the run
// command wires all four from the telemetry section of the configuration.
package telemetry
