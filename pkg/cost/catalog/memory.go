package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/money"
)

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	defaults  map[uuid.UUID]DefaultItem
	overrides map[uuid.UUID]Override
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		defaults:  make(map[uuid.UUID]DefaultItem),
		overrides: make(map[uuid.UUID]Override),
	}
}

// ListDefaults implements Repository.
func (r *MemoryRepository) ListDefaults(_ context.Context, resourceKind string) ([]DefaultItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []DefaultItem
	for _, d := range r.defaults {
		if resourceKind == "" || d.ResourceKind == resourceKind {
			out = append(out, d)
		}
	}
	sortDefaults(out)
	return out, nil
}

// UpsertDefault implements Repository.
func (r *MemoryRepository) UpsertDefault(_ context.Context, item DefaultItem) (DefaultItem, error) {
	if err := item.Item.Validate(); err != nil {
		return DefaultItem{}, err
	}
	if item.ResourceKind == "" {
		return DefaultItem{}, fmt.Errorf("default price requires a resource kind")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, d := range r.defaults {
		if d.ResourceKind == item.ResourceKind && d.Item == item.Item {
			item.ID = id
			r.defaults[id] = item
			return item, nil
		}
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	r.defaults[item.ID] = item
	return item, nil
}

// DeleteDefault implements Repository.
func (r *MemoryRepository) DeleteDefault(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defaults[id]; !ok {
		return fmt.Errorf("%w: default %s", ErrNotFound, id)
	}
	for _, o := range r.overrides {
		if o.DefaultItemID == id {
			return fmt.Errorf("%w: %s", ErrDefaultInUse, id)
		}
	}
	delete(r.defaults, id)
	return nil
}

// ListOverrides implements Repository.
func (r *MemoryRepository) ListOverrides(_ context.Context, service string) ([]Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Override
	for _, o := range r.overrides {
		if service == "" || o.Service == service {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].DefaultItemID.String() < out[j].DefaultItemID.String()
	})
	return out, nil
}

// UpsertOverride implements Repository.
func (r *MemoryRepository) UpsertOverride(_ context.Context, service string, defaultItemID uuid.UUID, rate money.Rate) (Override, error) {
	if service == "" {
		return Override{}, fmt.Errorf("override requires a service")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defaults[defaultItemID]; !ok {
		return Override{}, fmt.Errorf("%w: default %s", ErrNotFound, defaultItemID)
	}
	for id, o := range r.overrides {
		if o.Service == service && o.DefaultItemID == defaultItemID {
			o.HourlyRate = rate
			r.overrides[id] = o
			return o, nil
		}
	}
	o := Override{ID: uuid.New(), Service: service, DefaultItemID: defaultItemID, HourlyRate: rate}
	r.overrides[o.ID] = o
	return o, nil
}

// DeleteOverride implements Repository.
func (r *MemoryRepository) DeleteOverride(_ context.Context, service string, defaultItemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, o := range r.overrides {
		if o.Service == service && o.DefaultItemID == defaultItemID {
			delete(r.overrides, id)
			return nil
		}
	}
	return fmt.Errorf("%w: override %s/%s", ErrNotFound, service, defaultItemID)
}

func sortDefaults(items []DefaultItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.ResourceKind != b.ResourceKind {
			return a.ResourceKind < b.ResourceKind
		}
		if a.Item.Type != b.Item.Type {
			return a.Item.Type < b.Item.Type
		}
		return a.Item.Key < b.Item.Key
	})
}
