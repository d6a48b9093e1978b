package cost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/cost/pricing"
	"mercator-hq/costtrack/pkg/cost/storage"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
	"mercator-hq/costtrack/pkg/telemetry/logging"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// RebuildResult summarizes a month rebuild.
type RebuildResult struct {
	Month period.Month

	// Rebuilt is the number of resources repriced from their records.
	Rebuilt int

	// Kept lists resources that kept their total: authoritative ones and
	// ones without a record.
	Kept []string

	// Failed lists resources whose record is unusable. They kept their
	// total.
	Failed []string

	// Violations found after the rebuild.
	Violations []estimate.Violation
}

// Partial reports whether some resources could not be rebuilt.
func (r RebuildResult) Partial() bool {
	return len(r.Failed) > 0
}

// Rebuild recomputes every estimate of month from the consumption records
// and the current price list: all totals are reset, then each resource
// total is repriced and propagated again. Replaying a month that was built
// from events yields the same totals.
func (t *Tracker) Rebuild(ctx context.Context, month period.Month) (res RebuildResult, err error) {
	ctx, span := t.startSpan(ctx, "cost.Rebuild", tracing.Month(month.String()))
	defer func() { tracing.End(span, err) }()
	res.Month = month

	snap, err := t.catalog.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load price list: %w", err)
	}

	err = t.withTx(ctx, t.rebuildTimeout, func(ctx context.Context, tx storage.Tx) error {
		res = RebuildResult{Month: month}
		estimates, err := tx.ListMonth(ctx, month)
		if err != nil {
			return err
		}
		records, err := tx.ListConsumption(ctx, month)
		if err != nil {
			return err
		}
		byResource := make(map[string]*consumption.Details, len(records))
		for _, d := range records {
			byResource[d.ResourceID] = d
		}

		if err := tx.ResetMonthTotals(ctx, month); err != nil {
			return err
		}

		for _, e := range estimates {
			if e.Scope.Kind != scope.KindResource {
				continue
			}
			id := e.Scope.ID
			total, consumed := e.Total, e.Consumed

			d := byResource[id]
			if d == nil || t.backends.IsAuthoritative(d.ResourceType) {
				res.Kept = append(res.Kept, id)
			} else if bad := t.checkRecord(d); bad != nil {
				t.logger.WarnContext(logging.WithResourceID(ctx, id), "Unusable consumption record, keeping total",
					"month", month.String(),
					"error", bad,
				)
				res.Failed = append(res.Failed, id)
			} else {
				q := quote{rates: snap.RatesFor(d.Service, d.ResourceType)}
				if total, consumed, err = t.price(ctx, q, d, d.LastUpdateTime); err != nil {
					return fmt.Errorf("failed to price %s: %w", id, err)
				}
				res.Rebuilt++
			}

			if _, err := t.prop.Restore(ctx, tx, e.Key(), total, consumed); err != nil {
				return err
			}
		}

		all, err := tx.ListMonth(ctx, month)
		if err != nil {
			return err
		}
		res.Violations, err = t.verify(ctx, tx, month, all)
		return err
	})
	if err != nil {
		return res, err
	}

	t.logger.InfoContext(ctx, "Month rebuilt",
		"month", month.String(),
		"rebuilt", res.Rebuilt,
		"kept", len(res.Kept),
		"failed", len(res.Failed),
		"violations", len(res.Violations),
	)
	return res, nil
}

// Verify checks the stored invariants of month: totals add up, limit
// aggregates match the live children, live resources are linked to every
// ancestor in the graph, and consumption records lie inside the month.
func (t *Tracker) Verify(ctx context.Context, month period.Month) ([]estimate.Violation, error) {
	var out []estimate.Violation
	err := t.withTx(ctx, t.rebuildTimeout, func(ctx context.Context, tx storage.Tx) error {
		all, err := tx.ListMonth(ctx, month)
		if err != nil {
			return err
		}
		out, err = t.verify(ctx, tx, month, all)
		return err
	})
	return out, err
}

func (t *Tracker) verify(ctx context.Context, tx storage.Tx, month period.Month, all []*estimate.PriceEstimate) ([]estimate.Violation, error) {
	violations, err := estimate.Verify(ctx, tx, all)
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		if e.Scope.Kind != scope.KindResource || e.Deleted() {
			continue
		}
		v, err := t.checkLinks(ctx, tx, e.Key())
		if err != nil {
			return nil, err
		}
		if v != nil {
			violations = append(violations, *v)
		}
	}
	records, err := tx.ListConsumption(ctx, month)
	if err != nil {
		return nil, err
	}
	for _, d := range records {
		if err := t.checkRecord(d); err != nil {
			violations = append(violations, estimate.Violation{
				Key:     estimate.Key{Scope: scope.Resource(d.ResourceID), Month: d.Month},
				Check:   "consumption_range",
				Message: err.Error(),
			})
		}
	}
	return violations, nil
}

// checkLinks reports the graph ancestors of a resource that its stored
// estimate does not reach. Resources gone from the graph are skipped.
func (t *Tracker) checkLinks(ctx context.Context, tx storage.Tx, key estimate.Key) (*estimate.Violation, error) {
	want, err := t.graph.Ancestors(key.Scope)
	if errors.Is(err, scope.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored, err := t.prop.Ancestors(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	linked := make(map[scope.Ref]bool, len(stored))
	for _, k := range stored {
		linked[k.Scope] = true
	}
	var missing []string
	for _, ref := range want {
		if !linked[ref] {
			missing = append(missing, ref.String())
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return &estimate.Violation{
		Key:     key,
		Check:   "ancestor_links",
		Message: "not linked to " + strings.Join(missing, ", "),
	}, nil
}

// checkRecord validates the time range and accumulated usage of d.
func (t *Tracker) checkRecord(d *consumption.Details) error {
	loc := t.manager.Location()
	start, end := d.Month.Start(loc), d.Month.End(loc)
	if d.LastUpdateTime.Before(start) || d.LastUpdateTime.After(end) {
		return fmt.Errorf("last update %s outside %s", d.LastUpdateTime.Format(time.RFC3339), d.Month)
	}
	for item, used := range d.ConsumedBeforeUpdate {
		if used < 0 {
			return fmt.Errorf("negative consumption %d of %s", used, item)
		}
	}
	return d.Configuration.Validate()
}

// RefreshConsumed updates the consumed-so-far figure of every live resource
// estimate of the month of now. It returns the number of estimates changed.
func (t *Tracker) RefreshConsumed(ctx context.Context, now time.Time) (int, error) {
	ctx, span := t.startSpan(ctx, "cost.RefreshConsumed")
	defer span.End()

	month := t.manager.MonthOf(now)
	snap, err := t.catalog.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load price list: %w", err)
	}

	var records []*consumption.Details
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		var err error
		records, err = tx.ListConsumption(ctx, month)
		return err
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, rec := range records {
		ok, err := t.refreshOne(ctx, snap.RatesFor(rec.Service, rec.ResourceType), rec.ResourceID, month, now)
		if err != nil {
			if Classify(err) == ClassInvariant {
				return changed, err
			}
			t.logger.WarnContext(logging.WithResourceID(ctx, rec.ResourceID), "Failed to refresh consumed cost", "error", err)
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (t *Tracker) refreshOne(ctx context.Context, rates pricing.RateFunc, resourceID string, month period.Month, now time.Time) (bool, error) {
	unlock := t.locks.Lock(resourceID)
	defer unlock()

	changed := false
	err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		changed = false
		key := estimate.Key{Scope: scope.Resource(resourceID), Month: month}
		e, err := tx.GetEstimate(ctx, key)
		if err != nil || e == nil || e.Deleted() {
			return err
		}
		d, err := tx.GetConsumption(ctx, resourceID, month)
		if err != nil || d == nil {
			return err
		}
		if t.manager.Normalize(now).Before(d.LastUpdateTime) {
			return nil
		}
		consumed, _, err := pricing.ConsumedUntil(rates, t.manager, d, now)
		if err != nil || consumed == e.Consumed {
			return err
		}
		e.Consumed = consumed
		if err := tx.UpdateEstimate(ctx, e); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// SyncResult summarizes a resource sync.
type SyncResult struct {
	// Checked is the number of resources read from their adapter.
	Checked int

	// Updated is the number of resources whose configuration changed.
	Updated int

	// Skipped is the number of resources without an adapter.
	Skipped int

	// Failed lists resources whose adapter or update failed. Their
	// estimates are left as they were.
	Failed []string
}

// SyncResources reads the consumables of every live resource with a
// registered adapter and applies configurations that changed.
func (t *Tracker) SyncResources(ctx context.Context, now time.Time) (SyncResult, error) {
	ctx, span := t.startSpan(ctx, "cost.SyncResources")
	defer span.End()

	var (
		mu  sync.Mutex
		res SyncResult
	)
	month := t.manager.MonthOf(now)
	fail := func(id string) {
		mu.Lock()
		res.Failed = append(res.Failed, id)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.syncConcurrency)
	for _, info := range t.graph.Resources() {
		if _, ok := t.backends.Lookup(info.Type); !ok {
			res.Skipped++
			continue
		}
		info := info
		g.Go(func() error {
			ctx := logging.WithResourceID(gctx, info.ID)
			usage, err := t.backends.GetConsumables(ctx, info)
			mu.Lock()
			res.Checked++
			mu.Unlock()
			if err != nil {
				t.metrics.RecordAdapterFailure("consumables")
				t.logger.WarnContext(ctx, "Failed to read resource consumables, skipping", "error", err)
				fail(info.ID)
				return nil
			}

			d, err := t.Consumption(ctx, info.ID, month)
			if err != nil {
				return err
			}
			if d != nil && d.Configuration.Equal(usage) {
				return nil
			}
			if _, err := t.UpdateResource(ctx, info.ID, usage, now); err != nil {
				if Classify(err) == ClassInvariant {
					return err
				}
				t.logger.WarnContext(ctx, "Failed to apply synced configuration", "error", err)
				fail(info.ID)
				return nil
			}
			mu.Lock()
			res.Updated++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return res, err
}
