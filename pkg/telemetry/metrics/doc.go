// Package metrics assembles the Prometheus registry of the costtrack process.
//
// # Overview
//
// A Collector owns one registry and registers:
//
//   - Cost core metrics (events, alerts, estimate totals), see cost.Metrics
//   - Price list reload count and duration
//   - Database connection pool statistics for SQL stores
//   - Go runtime and process metrics
//   - costtrack_build_info
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.SetBuildInfo(version, commit)
//
//	tracker, err := cost.New(cost.Config{Metrics: collector.Cost(), ...})
//	prices := catalog.New(repo, catalog.WithLoadHook(collector.Catalog().LoadHook()))
//
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
