// Package backend defines the contract between the cost tracker and the
// provider families that run resources.
//
// An Adapter translates provider-specific resource state into consumable
// units. Providers that bill authoritatively on their side may additionally
// implement MonthlyCostEstimator; the tracker then takes their figure for
// the resource instead of pricing its consumption from the catalog.
//
// Adapters are registered per resource type:
//
//	reg := backend.NewRegistry()
//	reg.Register("openstack.instance", openstackAdapter)
//
//	usage, err := reg.GetConsumables(ctx, resource)
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

// ErrNotRegistered is returned when no adapter handles a resource type.
var ErrNotRegistered = errors.New("no backend adapter registered")

// Adapter reads the consumable units of a resource from its provider.
type Adapter interface {
	GetConsumables(ctx context.Context, resource scope.ResourceInfo) (consumption.Usage, error)
}

// MonthlyCostEstimator is implemented by adapters whose provider reports
// the monthly cost of a resource itself.
type MonthlyCostEstimator interface {
	GetMonthlyCostEstimate(ctx context.Context, resource scope.ResourceInfo) (money.Amount, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, resource scope.ResourceInfo) (consumption.Usage, error)

// GetConsumables implements Adapter.
func (f AdapterFunc) GetConsumables(ctx context.Context, resource scope.ResourceInfo) (consumption.Usage, error) {
	return f(ctx, resource)
}

// AdapterError wraps a failure reported by an adapter.
type AdapterError struct {
	// ResourceType is the type the adapter is registered for
	ResourceType string

	// ResourceID is the resource being read
	ResourceID string

	// Op is "consumables" or "monthly_cost"
	Op string

	// Cause is the adapter's error
	Cause error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	return fmt.Sprintf("backend %q failed to read %s of resource %s: %v", e.ResourceType, e.Op, e.ResourceID, e.Cause)
}

// Unwrap returns the adapter's error.
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// Registry maps resource types to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs a for resourceType, replacing any previous adapter.
func (r *Registry) Register(resourceType string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[resourceType] = a
}

// Lookup returns the adapter for resourceType.
func (r *Registry) Lookup(resourceType string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[resourceType]
	return a, ok
}

// Types returns the registered resource types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// GetConsumables reads the usage of resource through its adapter and
// validates it.
func (r *Registry) GetConsumables(ctx context.Context, resource scope.ResourceInfo) (consumption.Usage, error) {
	a, ok := r.Lookup(resource.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, resource.Type)
	}
	usage, err := a.GetConsumables(ctx, resource)
	if err != nil {
		return nil, &AdapterError{ResourceType: resource.Type, ResourceID: resource.ID, Op: "consumables", Cause: err}
	}
	if err := usage.Validate(); err != nil {
		return nil, &AdapterError{ResourceType: resource.Type, ResourceID: resource.ID, Op: "consumables", Cause: err}
	}
	return usage, nil
}

// MonthlyCost returns the provider's own monthly figure for resource. The
// boolean is false when the adapter does not bill authoritatively.
func (r *Registry) MonthlyCost(ctx context.Context, resource scope.ResourceInfo) (money.Amount, bool, error) {
	a, ok := r.Lookup(resource.Type)
	if !ok {
		return 0, false, nil
	}
	est, ok := a.(MonthlyCostEstimator)
	if !ok {
		return 0, false, nil
	}
	total, err := est.GetMonthlyCostEstimate(ctx, resource)
	if err != nil {
		return 0, true, &AdapterError{ResourceType: resource.Type, ResourceID: resource.ID, Op: "monthly_cost", Cause: err}
	}
	if total < 0 {
		return 0, true, &AdapterError{ResourceType: resource.Type, ResourceID: resource.ID, Op: "monthly_cost",
			Cause: fmt.Errorf("negative estimate %s", total.Exact())}
	}
	return total, true, nil
}

// IsAuthoritative reports whether resources of resourceType are priced by
// their provider.
func (r *Registry) IsAuthoritative(resourceType string) bool {
	a, ok := r.Lookup(resourceType)
	if !ok {
		return false
	}
	_, ok = a.(MonthlyCostEstimator)
	return ok
}
