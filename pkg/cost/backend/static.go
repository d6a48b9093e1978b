package backend

import (
	"context"
	"fmt"
	"sync"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
	"mercator-hq/costtrack/pkg/scope"
)

// StaticAdapter serves consumables that were pushed into it, keyed by
// resource id. The run command feeds it from the event stream so the sync
// tick can re-read the last known configuration.
type StaticAdapter struct {
	mu      sync.RWMutex
	usage   map[string]consumption.Usage
	monthly map[string]money.Amount
}

// NewStaticAdapter returns an empty adapter.
func NewStaticAdapter() *StaticAdapter {
	return &StaticAdapter{usage: make(map[string]consumption.Usage)}
}

// Set records the usage of a resource.
func (a *StaticAdapter) Set(resourceID string, usage consumption.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage[resourceID] = usage.Clone()
}

// Forget drops a resource.
func (a *StaticAdapter) Forget(resourceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.usage, resourceID)
	delete(a.monthly, resourceID)
}

// GetConsumables implements Adapter.
func (a *StaticAdapter) GetConsumables(_ context.Context, resource scope.ResourceInfo) (consumption.Usage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.usage[resource.ID]
	if !ok {
		return nil, fmt.Errorf("no usage known for resource %s", resource.ID)
	}
	return u.Clone(), nil
}

// AuthoritativeAdapter is a StaticAdapter that also reports fixed monthly
// costs.
type AuthoritativeAdapter struct {
	*StaticAdapter
}

// NewAuthoritativeAdapter returns an empty adapter.
func NewAuthoritativeAdapter() *AuthoritativeAdapter {
	s := NewStaticAdapter()
	s.monthly = make(map[string]money.Amount)
	return &AuthoritativeAdapter{StaticAdapter: s}
}

// SetMonthlyCost records the provider's monthly figure for a resource.
func (a *AuthoritativeAdapter) SetMonthlyCost(resourceID string, total money.Amount) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monthly[resourceID] = total
}

// GetMonthlyCostEstimate implements MonthlyCostEstimator.
func (a *AuthoritativeAdapter) GetMonthlyCostEstimate(_ context.Context, resource scope.ResourceInfo) (money.Amount, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total, ok := a.monthly[resource.ID]
	if !ok {
		return 0, fmt.Errorf("no monthly cost known for resource %s", resource.ID)
	}
	return total, nil
}
