package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
)

// DefaultTTL is how long a snapshot is served before it is reloaded.
const DefaultTTL = 60 * time.Second

type defaultKey struct {
	kind string
	item consumption.Item
}

type overrideKey struct {
	service string
	id      uuid.UUID
}

// Snapshot is an immutable view of the price list.
type Snapshot struct {
	defaults  map[defaultKey]DefaultItem
	overrides map[overrideKey]money.Rate
	loadedAt  time.Time
}

// LoadedAt returns when the snapshot was read from the repository.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Rate returns the hourly rate for item on a resource of resourceKind under
// service: the service override if there is one, else the default.
func (s *Snapshot) Rate(service, resourceKind string, item consumption.Item) (money.Rate, error) {
	d, ok := s.defaults[defaultKey{kind: resourceKind, item: item}]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrNoPriceForItem, item, resourceKind)
	}
	if r, ok := s.overrides[overrideKey{service: service, id: d.ID}]; ok {
		return r, nil
	}
	return d.HourlyRate, nil
}

// RatesFor binds service and resourceKind for repeated lookups.
func (s *Snapshot) RatesFor(service, resourceKind string) func(consumption.Item) (money.Rate, error) {
	return func(item consumption.Item) (money.Rate, error) {
		return s.Rate(service, resourceKind, item)
	}
}

// Len returns the number of default items in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.defaults)
}

// Catalog serves price lookups from a cached snapshot of a Repository and
// writes through to it.
type Catalog struct {
	repo   Repository
	ttl    time.Duration
	clock  func() time.Time
	logger *slog.Logger
	onLoad func(time.Duration, error)

	mu    sync.RWMutex
	snap  *Snapshot
	stale bool
	gen   uint64
	group singleflight.Group
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTTL sets the snapshot lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Catalog) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// WithLoadHook registers a callback invoked after every reload attempt.
func WithLoadHook(fn func(elapsed time.Duration, err error)) Option {
	return func(c *Catalog) { c.onLoad = fn }
}

// New returns a Catalog over repo.
func New(repo Repository, opts ...Option) *Catalog {
	c := &Catalog{
		repo:   repo,
		ttl:    DefaultTTL,
		clock:  time.Now,
		logger: slog.Default().With("component", "catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repository returns the underlying repository.
func (c *Catalog) Repository() Repository {
	return c.repo
}

// Snapshot returns the current snapshot, reloading it when it has expired
// or was invalidated. If a reload fails while an older snapshot exists, the
// older one is served and the failure is logged.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap, stale := c.snap, c.stale
	c.mu.RUnlock()

	if snap != nil && !stale && c.clock().Sub(snap.loadedAt) < c.ttl {
		return snap, nil
	}

	v, err, _ := c.group.Do("load", func() (interface{}, error) {
		return c.load(ctx)
	})
	if err != nil {
		if snap != nil {
			c.logger.Warn("Price list reload failed, serving previous snapshot",
				"error", err,
				"loaded_at", snap.loadedAt,
			)
			return snap, nil
		}
		return nil, err
	}
	return v.(*Snapshot), nil
}

// EffectiveRate returns the hourly rate for item under service.
func (c *Catalog) EffectiveRate(ctx context.Context, service, resourceKind string, item consumption.Item) (money.Rate, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Rate(service, resourceKind, item)
}

// Invalidate forces the next lookup to reload.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.gen++
	c.mu.Unlock()
}

func (c *Catalog) load(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	start := c.clock()
	snap, err := c.read(ctx)
	if c.onLoad != nil {
		c.onLoad(c.clock().Sub(start), err)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snap = snap
	// An invalidation during the read leaves the snapshot stale.
	c.stale = c.gen != gen
	c.mu.Unlock()

	c.logger.Debug("Price list loaded", "items", snap.Len())
	return snap, nil
}

func (c *Catalog) read(ctx context.Context) (*Snapshot, error) {
	defaults, err := c.repo.ListDefaults(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list default prices: %w", err)
	}
	overrides, err := c.repo.ListOverrides(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list price overrides: %w", err)
	}

	snap := &Snapshot{
		defaults:  make(map[defaultKey]DefaultItem, len(defaults)),
		overrides: make(map[overrideKey]money.Rate, len(overrides)),
		loadedAt:  c.clock(),
	}
	for _, d := range defaults {
		snap.defaults[defaultKey{kind: d.ResourceKind, item: d.Item}] = d
	}
	for _, o := range overrides {
		snap.overrides[overrideKey{service: o.Service, id: o.DefaultItemID}] = o.HourlyRate
	}
	return snap, nil
}

// ListDefaults returns defaults for resourceKind, or all when empty.
func (c *Catalog) ListDefaults(ctx context.Context, resourceKind string) ([]DefaultItem, error) {
	return c.repo.ListDefaults(ctx, resourceKind)
}

// ListOverrides returns overrides for service, or all when empty.
func (c *Catalog) ListOverrides(ctx context.Context, service string) ([]Override, error) {
	return c.repo.ListOverrides(ctx, service)
}

// UpsertDefault writes a default and invalidates the snapshot.
func (c *Catalog) UpsertDefault(ctx context.Context, item DefaultItem) (DefaultItem, error) {
	out, err := c.repo.UpsertDefault(ctx, item)
	if err == nil {
		c.Invalidate()
	}
	return out, err
}

// DeleteDefault removes a default and invalidates the snapshot.
func (c *Catalog) DeleteDefault(ctx context.Context, id uuid.UUID) error {
	err := c.repo.DeleteDefault(ctx, id)
	if err == nil {
		c.Invalidate()
	}
	return err
}

// UpsertOverride writes an override and invalidates the snapshot.
func (c *Catalog) UpsertOverride(ctx context.Context, service string, defaultItemID uuid.UUID, rate money.Rate) (Override, error) {
	out, err := c.repo.UpsertOverride(ctx, service, defaultItemID, rate)
	if err == nil {
		c.Invalidate()
	}
	return out, err
}

// DeleteOverride removes an override and invalidates the snapshot.
func (c *Catalog) DeleteOverride(ctx context.Context, service string, defaultItemID uuid.UUID) error {
	err := c.repo.DeleteOverride(ctx, service, defaultItemID)
	if err == nil {
		c.Invalidate()
	}
	return err
}
