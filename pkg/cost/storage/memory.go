package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

type consumptionKey struct {
	resourceID string
	month      period.Month
}

// MemoryStore keeps everything in process memory. Transactions are
// serialized by a single mutex and rolled back with an undo log.
type MemoryStore struct {
	mu     sync.Mutex
	closed bool
	now    func() time.Time

	estimates   map[estimate.Key]*estimate.PriceEstimate
	parents     map[estimate.Key]map[estimate.Key]struct{}
	children    map[estimate.Key]map[estimate.Key]struct{}
	consumption map[consumptionKey]*consumption.Details
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		estimates:   make(map[estimate.Key]*estimate.PriceEstimate),
		parents:     make(map[estimate.Key]map[estimate.Key]struct{}),
		children:    make(map[estimate.Key]map[estimate.Key]struct{}),
		consumption: make(map[consumptionKey]*consumption.Details),
	}
}

// WithTx implements Store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return mapContextErr(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx := &memoryTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return mapContextErr(err)
	}
	return nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memoryTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) setEstimate(key estimate.Key, e *estimate.PriceEstimate) {
	s := tx.s
	old, existed := s.estimates[key]
	tx.undo = append(tx.undo, func() {
		if existed {
			s.estimates[key] = old
		} else {
			delete(s.estimates, key)
		}
	})
	if e == nil {
		delete(s.estimates, key)
		return
	}
	s.estimates[key] = e
}

func (tx *memoryTx) GetEstimate(_ context.Context, key estimate.Key) (*estimate.PriceEstimate, error) {
	return tx.s.estimates[key].Clone(), nil
}

func (tx *memoryTx) InsertEstimate(_ context.Context, e *estimate.PriceEstimate) error {
	key := e.Key()
	if _, ok := tx.s.estimates[key]; ok {
		return fmt.Errorf("%w: estimate %s already exists", ErrConflict, key)
	}
	now := tx.s.now()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	tx.setEstimate(key, e.Clone())
	return nil
}

func (tx *memoryTx) UpdateEstimate(_ context.Context, e *estimate.PriceEstimate) error {
	key := e.Key()
	cur, ok := tx.s.estimates[key]
	if !ok {
		return fmt.Errorf("%w: estimate %s", ErrNotFound, key)
	}
	if cur.Version != e.Version {
		return fmt.Errorf("%w: estimate %s at version %d, have %d", ErrConflict, key, cur.Version, e.Version)
	}
	next := e.Clone()
	next.Total = cur.Total
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = tx.s.now()
	next.Version = cur.Version + 1
	tx.setEstimate(key, next)
	e.Version = next.Version
	e.UpdatedAt = next.UpdatedAt
	return nil
}

func (tx *memoryTx) AddToTotal(_ context.Context, key estimate.Key, delta money.Amount) error {
	cur, ok := tx.s.estimates[key]
	if !ok {
		return fmt.Errorf("%w: estimate %s", ErrNotFound, key)
	}
	next := cur.Clone()
	next.Total += delta
	next.UpdatedAt = tx.s.now()
	tx.setEstimate(key, next)
	return nil
}

func (tx *memoryTx) DeleteEstimate(_ context.Context, key estimate.Key) error {
	s := tx.s
	if _, ok := s.estimates[key]; !ok {
		return nil
	}
	for pk := range s.parents[key] {
		tx.unlink(key, pk)
	}
	for ck := range s.children[key] {
		tx.unlink(ck, key)
	}
	tx.setEstimate(key, nil)
	return nil
}

func (tx *memoryTx) LinkParent(_ context.Context, child, parent estimate.Key) (bool, error) {
	s := tx.s
	if _, ok := s.parents[child][parent]; ok {
		return false, nil
	}
	link(s.parents, child, parent)
	link(s.children, parent, child)
	tx.undo = append(tx.undo, func() {
		delete(s.parents[child], parent)
		delete(s.children[parent], child)
	})
	return true, nil
}

func (tx *memoryTx) unlink(child, parent estimate.Key) {
	s := tx.s
	delete(s.parents[child], parent)
	delete(s.children[parent], child)
	tx.undo = append(tx.undo, func() {
		link(s.parents, child, parent)
		link(s.children, parent, child)
	})
}

func link(m map[estimate.Key]map[estimate.Key]struct{}, from, to estimate.Key) {
	if m[from] == nil {
		m[from] = make(map[estimate.Key]struct{})
	}
	m[from][to] = struct{}{}
}

func (tx *memoryTx) Parents(_ context.Context, key estimate.Key) ([]estimate.Key, error) {
	return sortedKeys(tx.s.parents[key]), nil
}

func (tx *memoryTx) Children(_ context.Context, key estimate.Key) ([]estimate.Key, error) {
	return sortedKeys(tx.s.children[key]), nil
}

func (tx *memoryTx) GetConsumption(_ context.Context, resourceID string, month period.Month) (*consumption.Details, error) {
	return tx.s.consumption[consumptionKey{resourceID, month}].Clone(), nil
}

func (tx *memoryTx) SaveConsumption(_ context.Context, d *consumption.Details) error {
	s := tx.s
	key := consumptionKey{d.ResourceID, d.Month}
	old, existed := s.consumption[key]
	s.consumption[key] = d.Clone()
	tx.undo = append(tx.undo, func() {
		if existed {
			s.consumption[key] = old
		} else {
			delete(s.consumption, key)
		}
	})
	return nil
}

func (tx *memoryTx) DeleteConsumption(_ context.Context, resourceID string) error {
	s := tx.s
	for key, d := range s.consumption {
		if key.resourceID != resourceID {
			continue
		}
		key, d := key, d
		delete(s.consumption, key)
		tx.undo = append(tx.undo, func() { s.consumption[key] = d })
	}
	return nil
}

func (tx *memoryTx) ListConsumption(_ context.Context, month period.Month) ([]*consumption.Details, error) {
	var out []*consumption.Details
	for key, d := range tx.s.consumption {
		if key.month == month {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (tx *memoryTx) ListMonth(_ context.Context, month period.Month) ([]*estimate.PriceEstimate, error) {
	var out []*estimate.PriceEstimate
	for key, e := range tx.s.estimates {
		if key.Month == month {
			out = append(out, e.Clone())
		}
	}
	sortEstimates(out)
	return out, nil
}

func (tx *memoryTx) ListScope(_ context.Context, ref scope.Ref) ([]*estimate.PriceEstimate, error) {
	var out []*estimate.PriceEstimate
	for key, e := range tx.s.estimates {
		if key.Scope == ref {
			out = append(out, e.Clone())
		}
	}
	sortEstimates(out)
	return out, nil
}

func (tx *memoryTx) LatestMonthBefore(_ context.Context, before period.Month) (period.Month, bool, error) {
	var (
		best  period.Month
		found bool
	)
	for key := range tx.s.estimates {
		if key.Month.Before(before) && (!found || key.Month.After(best)) {
			best, found = key.Month, true
		}
	}
	return best, found, nil
}

func (tx *memoryTx) ResetMonthTotals(_ context.Context, month period.Month) error {
	for key, e := range tx.s.estimates {
		if key.Month != month {
			continue
		}
		next := e.Clone()
		next.Total = 0
		next.Consumed = 0
		tx.setEstimate(key, next)
	}
	return nil
}

func sortedKeys(set map[estimate.Key]struct{}) []estimate.Key {
	out := make([]estimate.Key, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i], out[j]) })
	return out
}

func sortEstimates(es []*estimate.PriceEstimate) {
	sort.Slice(es, func(i, j int) bool { return lessKey(es[i].Key(), es[j].Key()) })
}

func lessKey(a, b estimate.Key) bool {
	if a.Month != b.Month {
		return a.Month.Before(b.Month)
	}
	if a.Scope.Kind != b.Scope.Kind {
		return a.Scope.Kind < b.Scope.Kind
	}
	return a.Scope.ID < b.Scope.ID
}
