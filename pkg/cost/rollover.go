package cost

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/cost/storage"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
	"mercator-hq/costtrack/pkg/telemetry/logging"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// RolloverResult summarizes a rollover.
type RolloverResult struct {
	// Months lists the months that received records or estimates in this
	// run, oldest first. It is empty when every month was already seeded.
	Months []period.Month

	// Resources is the number of consumption records carried forward.
	Resources int

	// Scopes is the number of non-resource estimates created.
	Scopes int

	// Failed lists resources whose carry-over failed and will be retried
	// on the next run.
	Failed []string
}

// Rollover seeds every month from the latest month with estimates up to the
// month of now. Live resources continue with their previous configuration
// from the first minute of the new month, and every live scope gets an
// estimate carrying its threshold and limit forward. Running it again is a
// no-op.
func (t *Tracker) Rollover(ctx context.Context, now time.Time) (res RolloverResult, err error) {
	ctx, span := t.startSpan(ctx, "cost.Rollover")
	defer func() { tracing.End(span, err) }()

	current := t.manager.MonthOf(now)
	var (
		latest period.Month
		found  bool
	)
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		var err error
		latest, found, err = tx.LatestMonthBefore(ctx, current)
		return err
	})
	if err != nil || !found {
		return res, err
	}

	for month := latest.Next(); !month.After(current); month = month.Next() {
		carried, scopes, failed, err := t.rollMonth(ctx, month)
		res.Resources += carried
		res.Scopes += scopes
		res.Failed = append(res.Failed, failed...)
		if err != nil {
			return res, fmt.Errorf("rollover into %s: %w", month, err)
		}
		if carried+scopes > 0 {
			res.Months = append(res.Months, month)
		}
	}

	if n := res.Resources + res.Scopes; n > 0 {
		t.metrics.RecordRollover(n)
		t.logger.InfoContext(ctx, "Rolled estimates into new month",
			"from", latest.String(),
			"to", current.String(),
			"resources", res.Resources,
			"scopes", res.Scopes,
			"failed", len(res.Failed),
		)
	}
	span.SetAttributes(tracing.Count("rollover.resources", res.Resources), tracing.Count("rollover.scopes", res.Scopes))
	return res, nil
}

func (t *Tracker) rollMonth(ctx context.Context, month period.Month) (carried, scopes int, failed []string, err error) {
	prev := month.Prev()

	var (
		records  []*consumption.Details
		previous []*estimate.PriceEstimate
		seeded   = make(map[string]bool)
	)
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if records, err = tx.ListConsumption(ctx, prev); err != nil {
			return err
		}
		if previous, err = tx.ListMonth(ctx, prev); err != nil {
			return err
		}
		current, err := tx.ListConsumption(ctx, month)
		if err != nil {
			return err
		}
		for _, d := range current {
			seeded[d.ResourceID] = true
		}
		return nil
	})
	if err != nil {
		return 0, 0, nil, err
	}

	frozen := make(map[string]bool)
	for _, e := range previous {
		if e.Scope.Kind == scope.KindResource && e.Deleted() {
			frozen[e.Scope.ID] = true
		}
	}

	withRecord := make(map[string]bool, len(records))
	for _, d := range records {
		withRecord[d.ResourceID] = true
		if seeded[d.ResourceID] || frozen[d.ResourceID] || !t.graph.Exists(scope.Resource(d.ResourceID)) {
			continue
		}
		ok, err := t.carryOver(ctx, d.ResourceID, month)
		if err != nil {
			if Classify(err) == ClassInvariant {
				return carried, scopes, failed, err
			}
			t.logger.WarnContext(logging.WithResourceID(ctx, d.ResourceID),
				"Failed to carry resource into new month",
				"month", month.String(),
				"error", err,
			)
			failed = append(failed, d.ResourceID)
			continue
		}
		if ok {
			carried++
		}
	}

	// Scopes without a consumption record of their own.
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		scopes = 0
		for _, e := range previous {
			if e.Deleted() || (e.Scope.Kind == scope.KindResource && withRecord[e.Scope.ID]) {
				continue
			}
			if !t.graph.Exists(e.Scope) {
				continue
			}
			key := estimate.Key{Scope: e.Scope, Month: month}
			existing, err := tx.GetEstimate(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if _, err := t.prop.Ensure(ctx, tx, key); err != nil {
				return err
			}
			scopes++
		}
		return nil
	})
	return carried, scopes, failed, err
}

// carryOver opens the record of month for a resource from its previous
// month and propagates the projection. It reports whether a record was
// created.
func (t *Tracker) carryOver(ctx context.Context, resourceID string, month period.Month) (bool, error) {
	ctx = logging.WithResourceID(ctx, resourceID)
	info, service, err := t.resource(resourceID)
	if err != nil {
		return false, err
	}

	unlock := t.locks.Lock(resourceID)
	defer unlock()

	// An event may have opened the month since the listing.
	var exists bool
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		d, err := tx.GetConsumption(ctx, resourceID, month)
		exists = d != nil
		return err
	})
	if err != nil || exists {
		return false, err
	}

	q, err := t.quote(ctx, info, service, true)
	if err != nil {
		return false, err
	}

	created := false
	key := estimate.Key{Scope: scope.Resource(resourceID), Month: month}
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		created = false
		existing, err := tx.GetConsumption(ctx, resourceID, month)
		if err != nil || existing != nil {
			return err
		}
		prev, err := tx.GetConsumption(ctx, resourceID, month.Prev())
		if err != nil || prev == nil {
			return err
		}

		d := t.manager.CarryOver(prev, month)
		if err := tx.SaveConsumption(ctx, d); err != nil {
			return err
		}
		total, consumed, err := t.price(ctx, q, d, d.LastUpdateTime)
		if err != nil {
			return err
		}
		if _, _, err := t.prop.ApplyResourceDelta(ctx, tx, key, total, consumed); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}
