// Package cost tracks what every scope of the ownership tree costs per
// calendar month.
//
// The Tracker is the single writer of price estimates. It turns resource
// events into consumption records, prices them against the catalog and
// propagates the change of each resource's monthly projection to every
// ancestor estimate in one store transaction:
//
//	tracker, err := cost.New(cost.Config{
//	    Store:   store,
//	    Catalog: prices,
//	    Graph:   graph,
//	})
//
//	_, err = tracker.UpdateResource(ctx, "vm1", usage, time.Now())
//
// Work on one resource is serialized by a per-resource lock. Work on
// different resources runs concurrently; ancestor totals only ever receive
// additive deltas, so the order in which siblings commit does not matter.
package cost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/costtrack/pkg/cost/backend"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/cost/pricing"
	"mercator-hq/costtrack/pkg/cost/storage"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
	"mercator-hq/costtrack/pkg/telemetry/logging"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// ErrorPolicy decides what happens to a resource that enters an error state.
type ErrorPolicy string

const (
	// ErrorPolicyFreeze stops charging the resource from the time of the
	// error until its next configuration change.
	ErrorPolicyFreeze ErrorPolicy = "freeze"

	// ErrorPolicyContinue keeps projecting the last configuration.
	ErrorPolicyContinue ErrorPolicy = "continue"
)

// Valid reports whether p is a known policy.
func (p ErrorPolicy) Valid() bool {
	return p == ErrorPolicyFreeze || p == ErrorPolicyContinue
}

// Config contains the collaborators and settings of a Tracker.
type Config struct {
	// Store persists estimates and consumption records. Required.
	Store storage.Store

	// Catalog prices consumable items. Required.
	Catalog *catalog.Catalog

	// Graph is the ownership tree. Required.
	Graph scope.Graph

	// Backends holds the provider adapters. Optional.
	Backends *backend.Registry

	// Location is the time zone months are cut in.
	// Default: UTC
	Location *time.Location

	// TxTimeout bounds a single estimate transaction.
	// Default: 10 seconds
	TxTimeout time.Duration

	// RebuildTimeout bounds the transaction of a month rebuild.
	// Default: 5 minutes
	RebuildTimeout time.Duration

	// ErrorPolicy applies to resources that enter an error state.
	// Default: freeze
	ErrorPolicy ErrorPolicy

	// SyncConcurrency bounds parallel adapter calls in SyncResources.
	// Default: 4
	SyncConcurrency int

	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// Tracker maintains consumption records and price estimates. It is safe for
// concurrent use.
type Tracker struct {
	store    storage.Store
	catalog  *catalog.Catalog
	graph    scope.Graph
	backends *backend.Registry
	manager  *consumption.Manager
	prop     *estimate.Propagator

	txTimeout       time.Duration
	rebuildTimeout  time.Duration
	policy          ErrorPolicy
	syncConcurrency int

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	clock   func() time.Time

	locks *keyedMutex

	mu        sync.Mutex
	lastEvent map[string]time.Time
}

// New creates a Tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Graph == nil {
		return nil, errors.New("scope graph is required")
	}
	if cfg.ErrorPolicy == "" {
		cfg.ErrorPolicy = ErrorPolicyFreeze
	}
	if !cfg.ErrorPolicy.Valid() {
		return nil, fmt.Errorf("invalid error policy %q", cfg.ErrorPolicy)
	}
	if cfg.Backends == nil {
		cfg.Backends = backend.NewRegistry()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 10 * time.Second
	}
	if cfg.RebuildTimeout <= 0 {
		cfg.RebuildTimeout = 5 * time.Minute
	}
	if cfg.SyncConcurrency <= 0 {
		cfg.SyncConcurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("costtrack")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Tracker{
		store:           cfg.Store,
		catalog:         cfg.Catalog,
		graph:           cfg.Graph,
		backends:        cfg.Backends,
		manager:         consumption.NewManager(cfg.Location),
		prop:            estimate.NewPropagator(cfg.Graph),
		txTimeout:       cfg.TxTimeout,
		rebuildTimeout:  cfg.RebuildTimeout,
		policy:          cfg.ErrorPolicy,
		syncConcurrency: cfg.SyncConcurrency,
		logger:          cfg.Logger.With("component", "cost.tracker"),
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		clock:           cfg.Clock,
		locks:           newKeyedMutex(),
		lastEvent:       make(map[string]time.Time),
	}, nil
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	return t.clock()
}

// CurrentMonth returns the month containing the tracker's current time.
func (t *Tracker) CurrentMonth() period.Month {
	return t.manager.MonthOf(t.clock())
}

// Location returns the time zone months are cut in.
func (t *Tracker) Location() *time.Location {
	return t.manager.Location()
}

// Metrics returns the tracker's metrics.
func (t *Tracker) Metrics() *Metrics {
	return t.metrics
}

// Store returns the tracker's store.
func (t *Tracker) Store() storage.Store {
	return t.store
}

// UpdateResource installs config as the configuration of a resource from
// at on and propagates the resource's new monthly projection. It returns
// the updated resource estimate.
func (t *Tracker) UpdateResource(ctx context.Context, resourceID string, config consumption.Usage, at time.Time) (est *estimate.PriceEstimate, err error) {
	ctx, span := t.startSpan(ctx, "cost.UpdateResource", tracing.ResourceID(resourceID))
	defer func() { tracing.End(span, err) }()
	ctx = logging.WithResourceID(ctx, resourceID)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	info, service, err := t.resource(resourceID)
	if err != nil {
		return nil, err
	}
	at = t.manager.Normalize(at)

	unlock := t.locks.Lock(resourceID)
	defer unlock()

	if err := t.checkOrder(resourceID, at); err != nil {
		return nil, err
	}
	q, err := t.quote(ctx, info, service, true)
	if err != nil {
		return nil, err
	}

	month := t.manager.MonthOf(at)
	key := estimate.Key{Scope: scope.Resource(resourceID), Month: month}
	start := time.Now()
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		d, err := t.applyConfig(ctx, tx, info, service, month, config, at)
		if err != nil {
			return err
		}
		if err := tx.SaveConsumption(ctx, d); err != nil {
			return err
		}
		total, consumed, err := t.price(ctx, q, d, at)
		if err != nil {
			return err
		}
		e, delta, err := t.prop.ApplyResourceDelta(ctx, tx, key, total, consumed)
		if err != nil {
			return err
		}
		est = e
		t.logger.DebugContext(ctx, "Resource estimate updated",
			"month", month.String(),
			"total", total.String(),
			"delta", delta.String(),
		)
		return nil
	})
	t.metrics.RecordPropagation(time.Since(start))
	if err != nil {
		return nil, err
	}
	t.markApplied(resourceID, at)
	return est, nil
}

// applyConfig returns the record of month with config applied at at. A
// missing record is opened, carrying the previous month's configuration
// forward when there is one.
func (t *Tracker) applyConfig(ctx context.Context, tx storage.Tx, info scope.ResourceInfo, service string, month period.Month, config consumption.Usage, at time.Time) (*consumption.Details, error) {
	next, err := tx.GetConsumption(ctx, info.ID, month.Next())
	if err != nil {
		return nil, err
	}
	if next != nil {
		return nil, fmt.Errorf("%w: resource %s already has a record for %s", consumption.ErrUpdatePastMonth, info.ID, month.Next())
	}

	d, err := tx.GetConsumption(ctx, info.ID, month)
	if err != nil {
		return nil, err
	}
	if d == nil {
		prev, err := tx.GetConsumption(ctx, info.ID, month.Prev())
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return t.manager.Open(info.ID, info.Type, service, config, at), nil
		}
		d = t.manager.CarryOver(prev, month)
	}
	if at.Before(d.LastUpdateTime) {
		return nil, fmt.Errorf("%w: resource %s changed at %s, last update %s", ErrStaleEvent,
			info.ID, at.Format(time.RFC3339), d.LastUpdateTime.Format(time.RFC3339))
	}
	if _, err := t.manager.Update(d, config, at); err != nil {
		return nil, err
	}
	return d, nil
}

// tracked reports whether a resource has a record for month or the month
// before it.
func (t *Tracker) tracked(ctx context.Context, tx storage.Tx, resourceID string, month period.Month) (bool, error) {
	for _, m := range []period.Month{month, month.Prev()} {
		d, err := tx.GetConsumption(ctx, resourceID, m)
		if err != nil || d != nil {
			return d != nil, err
		}
	}
	return false, nil
}

// MarkErred handles a resource entering an error state. Under the freeze
// policy the resource consumes nothing from at until its next change.
func (t *Tracker) MarkErred(ctx context.Context, resourceID string, at time.Time) error {
	if t.policy == ErrorPolicyContinue {
		t.logger.InfoContext(logging.WithResourceID(ctx, resourceID),
			"Resource erred, projection continues", "at", at)
		return nil
	}
	_, err := t.UpdateResource(ctx, resourceID, consumption.Usage{}, at)
	return err
}

// DeleteResource stops charging a resource at at and freezes its
// estimates. The consumed cost stays in every ancestor.
func (t *Tracker) DeleteResource(ctx context.Context, resourceID string, at time.Time) (err error) {
	ctx, span := t.startSpan(ctx, "cost.DeleteResource", tracing.ResourceID(resourceID))
	defer func() { tracing.End(span, err) }()
	ctx = logging.WithResourceID(ctx, resourceID)

	info, service, err := t.resource(resourceID)
	if err != nil {
		return err
	}
	ref := scope.Resource(resourceID)
	details := t.snapshot(ref)
	at = t.manager.Normalize(at)

	unlock := t.locks.Lock(resourceID)
	defer unlock()

	if err := t.checkOrder(resourceID, at); err != nil {
		return err
	}
	q, err := t.quote(ctx, info, service, false)
	if err != nil {
		return err
	}

	month := t.manager.MonthOf(at)
	key := estimate.Key{Scope: ref, Month: month}
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		tracked, err := t.tracked(ctx, tx, resourceID, month)
		if err != nil {
			return err
		}
		if tracked {
			d, err := t.applyConfig(ctx, tx, info, service, month, consumption.Usage{}, at)
			if err != nil {
				return err
			}
			if err := tx.SaveConsumption(ctx, d); err != nil {
				return err
			}

			current, err := tx.GetEstimate(ctx, key)
			if err != nil {
				return err
			}
			if current == nil || !current.Deleted() {
				total, consumed, err := t.price(ctx, q, d, at)
				if err != nil {
					return err
				}
				if q.authoritative && current != nil {
					total = current.Total
				}
				if _, _, err := t.prop.ApplyResourceDelta(ctx, tx, key, total, consumed); err != nil {
					return err
				}
			}
		}
		return t.freezeAll(ctx, tx, ref, details)
	})
	if err != nil {
		return err
	}

	t.graph.Remove(ref)
	t.forget(resourceID)
	t.logger.InfoContext(ctx, "Resource deleted", "at", at)
	return nil
}

// UnlinkResource removes a resource from cost tracking entirely, as if it
// had never been tracked.
func (t *Tracker) UnlinkResource(ctx context.Context, resourceID string) (err error) {
	ctx, span := t.startSpan(ctx, "cost.UnlinkResource", tracing.ResourceID(resourceID))
	defer func() { tracing.End(span, err) }()
	ctx = logging.WithResourceID(ctx, resourceID)

	ref := scope.Resource(resourceID)
	unlock := t.locks.Lock(resourceID)
	defer unlock()

	removed := 0
	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		removed = 0
		estimates, err := tx.ListScope(ctx, ref)
		if err != nil {
			return err
		}
		for _, e := range estimates {
			if err := t.prop.Remove(ctx, tx, e.Key()); err != nil {
				return err
			}
			removed++
		}
		return tx.DeleteConsumption(ctx, resourceID)
	})
	if err != nil {
		return err
	}

	t.graph.Remove(ref)
	t.forget(resourceID)
	t.logger.InfoContext(ctx, "Resource unlinked", "estimates_removed", removed)
	return nil
}

// DeleteScope freezes every estimate of a deleted scope and of everything
// below it. Resources below ref are deleted first so they are charged up to
// at. A resource itself is handled by DeleteResource.
func (t *Tracker) DeleteScope(ctx context.Context, ref scope.Ref, at time.Time) (err error) {
	if ref.Kind == scope.KindResource {
		return t.DeleteResource(ctx, ref.ID, at)
	}

	ctx, span := t.startSpan(ctx, "cost.DeleteScope", tracing.Scope(ref.String()))
	defer func() { tracing.End(span, err) }()
	ctx = logging.WithScope(ctx, ref.String())

	below, err := t.graph.Descendants(ref)
	if errors.Is(err, scope.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownScope, ref)
	}
	if err != nil {
		return err
	}

	scopes := []scope.Ref{ref}
	resources := 0
	for _, d := range below {
		if d.Kind != scope.KindResource {
			scopes = append(scopes, d)
			continue
		}
		if err := t.DeleteResource(ctx, d.ID, at); err != nil {
			return fmt.Errorf("failed to delete %s under %s: %w", d, ref, err)
		}
		resources++
	}

	details := make(map[scope.Ref]map[string]string, len(scopes))
	for _, s := range scopes {
		details[s] = t.snapshot(s)
	}

	unlock := t.locks.Lock(ref.String())
	defer unlock()

	err = t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		for _, s := range scopes {
			if err := t.freezeAll(ctx, tx, s, details[s]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range scopes {
		t.graph.Remove(s)
	}
	t.logger.InfoContext(ctx, "Scope deleted", "at", at, "scopes", len(scopes), "resources", resources)
	return nil
}

func (t *Tracker) freezeAll(ctx context.Context, tx storage.Tx, ref scope.Ref, details map[string]string) error {
	estimates, err := tx.ListScope(ctx, ref)
	if err != nil {
		return err
	}
	for _, e := range estimates {
		if err := t.prop.Freeze(ctx, tx, e.Key(), details); err != nil {
			return err
		}
	}
	return nil
}

// ImportHistory backfills a resource that has existed since createdAt with
// config. Every month from the creation month through the month of now
// that has no record is charged from the later of its start and createdAt.
// It returns the number of months created.
func (t *Tracker) ImportHistory(ctx context.Context, resourceID string, createdAt time.Time, config consumption.Usage, now time.Time) (imported int, err error) {
	ctx, span := t.startSpan(ctx, "cost.ImportHistory", tracing.ResourceID(resourceID))
	defer func() { tracing.End(span, err) }()
	ctx = logging.WithResourceID(ctx, resourceID)

	if err := config.Validate(); err != nil {
		return 0, err
	}
	info, service, err := t.resource(resourceID)
	if err != nil {
		return 0, err
	}
	createdAt = t.manager.Normalize(createdAt)
	now = t.manager.Normalize(now)
	if createdAt.After(now) {
		return 0, fmt.Errorf("%w: created at %s after %s", consumption.ErrClockWentBackwards,
			createdAt.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	unlock := t.locks.Lock(resourceID)
	defer unlock()

	q, err := t.quote(ctx, info, service, true)
	if err != nil {
		return 0, err
	}

	current := t.manager.MonthOf(now)
	for _, month := range period.Range(t.manager.MonthOf(createdAt), current) {
		key := estimate.Key{Scope: scope.Resource(resourceID), Month: month}
		created := false
		err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
			created = false
			existing, err := tx.GetConsumption(ctx, resourceID, month)
			if err != nil || existing != nil {
				return err
			}

			d := t.manager.OpenAt(resourceID, info.Type, service, month, config, createdAt)
			if err := tx.SaveConsumption(ctx, d); err != nil {
				return err
			}

			var total, consumed money.Amount
			if month == current {
				total, consumed, err = t.price(ctx, q, d, now)
				if err != nil {
					return err
				}
			} else {
				// Past months are over: everything projected was consumed.
				past := q
				past.authoritative = false
				total, _, err = t.price(ctx, past, d, d.LastUpdateTime)
				if err != nil {
					return err
				}
				consumed = total
			}
			if _, _, err := t.prop.ApplyResourceDelta(ctx, tx, key, total, consumed); err != nil {
				return err
			}
			created = true
			return nil
		})
		if err != nil {
			return imported, fmt.Errorf("failed to import %s: %w", key, err)
		}
		if created {
			imported++
		}
	}

	t.markApplied(resourceID, now)
	t.logger.InfoContext(ctx, "Resource history imported",
		"created_at", createdAt,
		"months", imported,
	)
	return imported, nil
}

// SetThreshold sets the alert threshold of ref for month.
func (t *Tracker) SetThreshold(ctx context.Context, ref scope.Ref, month period.Month, threshold money.Amount) (*estimate.PriceEstimate, error) {
	var out *estimate.PriceEstimate
	err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		key := estimate.Key{Scope: ref, Month: month}
		if err := t.requireScope(ctx, tx, key); err != nil {
			return err
		}
		e, err := t.prop.SetThreshold(ctx, tx, key, threshold)
		out = e
		return err
	})
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "Threshold changed",
		"scope", ref.String(),
		"month", month.String(),
		"threshold", threshold.String(),
	)
	return out, nil
}

// SetLimit sets the administrative limit of ref for month and refreshes the
// aggregated limits above it.
func (t *Tracker) SetLimit(ctx context.Context, ref scope.Ref, month period.Month, limit money.Amount) (*estimate.PriceEstimate, error) {
	var (
		out    *estimate.PriceEstimate
		before money.Amount
	)
	err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		key := estimate.Key{Scope: ref, Month: month}
		if err := t.requireScope(ctx, tx, key); err != nil {
			return err
		}
		before = estimate.NoLimit
		if cur, err := tx.GetEstimate(ctx, key); err != nil {
			return err
		} else if cur != nil {
			before = cur.Limit
		}
		e, err := t.prop.SetLimit(ctx, tx, key, limit)
		out = e
		return err
	})
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "Limit changed",
		"scope", ref.String(),
		"month", month.String(),
		"old_limit", money.FormatLimit(before),
		"new_limit", money.FormatLimit(limit),
		"effective_limit", money.FormatLimit(out.EffectiveLimit()),
	)
	return out, nil
}

func (t *Tracker) requireScope(ctx context.Context, tx storage.Tx, key estimate.Key) error {
	e, err := tx.GetEstimate(ctx, key)
	if err != nil {
		return err
	}
	if e == nil && !t.graph.Exists(key.Scope) {
		return fmt.Errorf("%w: %s", ErrUnknownScope, key.Scope)
	}
	return nil
}

// Estimates returns every estimate of ref, oldest month first.
func (t *Tracker) Estimates(ctx context.Context, ref scope.Ref) ([]*estimate.PriceEstimate, error) {
	var out []*estimate.PriceEstimate
	err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListScope(ctx, ref)
		return err
	})
	return out, err
}

// MonthEstimates returns every estimate of month.
func (t *Tracker) MonthEstimates(ctx context.Context, month period.Month) ([]*estimate.PriceEstimate, error) {
	var out []*estimate.PriceEstimate
	err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListMonth(ctx, month)
		return err
	})
	return out, err
}

// Consumption returns the consumption record of a resource for month, or
// nil if there is none.
func (t *Tracker) Consumption(ctx context.Context, resourceID string, month period.Month) (*consumption.Details, error) {
	var out *consumption.Details
	err := t.withTx(ctx, t.txTimeout, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.GetConsumption(ctx, resourceID, month)
		return err
	})
	return out, err
}

// quote holds what is needed to price one resource, gathered before the
// transaction opens.
type quote struct {
	rates         pricing.RateFunc
	authoritative bool
	monthly       money.Amount
}

// quote reads the price list and, when fetch is set, the provider's own
// monthly figure for authoritative resources.
func (t *Tracker) quote(ctx context.Context, info scope.ResourceInfo, service string, fetch bool) (quote, error) {
	snap, err := t.catalog.Snapshot(ctx)
	if err != nil {
		return quote{}, fmt.Errorf("failed to load price list: %w", err)
	}
	q := quote{rates: snap.RatesFor(service, info.Type)}
	if !fetch {
		q.authoritative = t.backends.IsAuthoritative(info.Type)
		return q, nil
	}

	monthly, ok, err := t.backends.MonthlyCost(ctx, info)
	if err != nil {
		t.metrics.RecordAdapterFailure("monthly_cost")
		return quote{}, err
	}
	q.authoritative, q.monthly = ok, monthly
	return q, nil
}

// price returns the monthly total and the cost consumed until at of d.
func (t *Tracker) price(ctx context.Context, q quote, d *consumption.Details, at time.Time) (total, consumed money.Amount, err error) {
	consumed, warnings, err := pricing.ConsumedUntil(q.rates, t.manager, d, at)
	if err != nil {
		return 0, 0, err
	}
	if q.authoritative {
		total = q.monthly
	} else {
		var more []pricing.Warning
		total, more = pricing.ProjectMonthlyEstimate(q.rates, t.manager, d)
		warnings = append(warnings, more...)
	}
	t.reportUnpriced(ctx, d, warnings)
	return total, consumed, nil
}

func (t *Tracker) reportUnpriced(ctx context.Context, d *consumption.Details, warnings []pricing.Warning) {
	seen := make(map[consumption.Item]bool, len(warnings))
	for _, w := range warnings {
		if seen[w.Item] {
			continue
		}
		seen[w.Item] = true
		t.metrics.RecordUnpriced(w.Item)
		t.logger.WarnContext(ctx, "Item has no price, counted as zero",
			"item", w.Item.String(),
			"service", d.Service,
			"resource_type", d.ResourceType,
		)
	}
}

func (t *Tracker) resource(id string) (scope.ResourceInfo, string, error) {
	info, err := t.graph.Resource(id)
	if errors.Is(err, scope.ErrNotFound) {
		return scope.ResourceInfo{}, "", fmt.Errorf("%w: resource %s", ErrUnknownScope, id)
	}
	if err != nil {
		return scope.ResourceInfo{}, "", err
	}
	service, err := t.graph.ServiceOf(id)
	if err != nil {
		return scope.ResourceInfo{}, "", fmt.Errorf("failed to resolve service of %s: %w", id, err)
	}
	return info, service, nil
}

// snapshot returns the details recorded on the frozen estimates of ref.
func (t *Tracker) snapshot(ref scope.Ref) map[string]string {
	info, err := t.graph.Describe(ref)
	if err != nil {
		return scope.Info{Ref: ref}.Details()
	}
	return info.Details()
}

func (t *Tracker) checkOrder(resourceID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastEvent[resourceID]; ok && at.Before(last) {
		return fmt.Errorf("%w: resource %s at %s, already applied %s", ErrStaleEvent,
			resourceID, at.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	return nil
}

func (t *Tracker) markApplied(resourceID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastEvent[resourceID]; !ok || at.After(last) {
		t.lastEvent[resourceID] = at
	}
}

func (t *Tracker) forget(resourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastEvent, resourceID)
}

func (t *Tracker) withTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx storage.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.store.WithTx(ctx, fn)
}

func (t *Tracker) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

