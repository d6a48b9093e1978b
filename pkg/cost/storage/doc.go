// Package storage persists price estimates, their parent links and the
// per-resource consumption records.
//
// # Backends
//
//   - MemoryStore: in-process, for tests and single-shot CLI runs
//   - SQLStore: SQLite (modernc.org/sqlite, WAL mode) or Postgres (pgx)
//
// # Concurrency
//
// All access goes through WithTx. Estimate rows carry a version; UpdateEstimate
// only succeeds against the version it read and otherwise fails with
// ErrConflict. Totals are changed with AddToTotal, an atomic in-place add that
// does not touch the version, so deltas from different resources commute.
//
// Both ErrConflict and ErrTimeout are safe to retry; the caller re-runs the
// whole transaction.
//
// # Schema
//
//	price_estimates       (scope_kind, scope_id, year, month) -> totals, limits, details
//	price_estimate_links  child estimate -> parent estimate, same month
//	consumption_details   (resource_id, year, month) -> configuration JSON
//	price_list_items      default hourly rates
//	price_list_overrides  per-service rates
//	alerts                threshold alerts, one open per (scope, type)
package storage
