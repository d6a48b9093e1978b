// Package health provides the liveness and readiness probes of the ops
// server.
//
// Liveness only reports that the process runs. Readiness runs the
// registered component checks concurrently, each bounded by the check
// timeout, and answers 503 when any of them fails:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.Register("store", health.PingCheck(store))
//	checker.Register("events", health.BacklogCheck(bus.Pending, cfg.Events.QueueSize))
//	checker.Mount(router, cfg.Telemetry.Health, version, commit)
package health
