// Package catalog holds the price list: default hourly rates per resource
// kind and consumable item, and per-service overrides of those defaults.
//
// Lookups on the hot path go through Catalog, which serves an immutable
// in-memory snapshot of the repository and refreshes it after a TTL or on
// explicit invalidation.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/money"
)

var (
	// ErrNoPriceForItem is returned when neither an override nor a default
	// prices an item.
	ErrNoPriceForItem = errors.New("no price for item")

	// ErrNotFound is returned for unknown price list entries.
	ErrNotFound = errors.New("price list entry not found")

	// ErrDefaultInUse is returned when deleting a default that still has overrides.
	ErrDefaultInUse = errors.New("default price list item has overrides")
)

// DefaultItem is the default hourly rate for an item of a resource kind.
type DefaultItem struct {
	ID           uuid.UUID
	ResourceKind string
	Item         consumption.Item
	Name         string
	HourlyRate   money.Rate
}

// Override replaces the rate of a default item for one service.
type Override struct {
	ID            uuid.UUID
	Service       string
	DefaultItemID uuid.UUID
	HourlyRate    money.Rate
}

// Repository persists price list entries.
type Repository interface {
	// ListDefaults returns defaults for resourceKind, or all when empty.
	ListDefaults(ctx context.Context, resourceKind string) ([]DefaultItem, error)

	// UpsertDefault inserts or updates the default identified by
	// (ResourceKind, Item). A zero ID is assigned on insert.
	UpsertDefault(ctx context.Context, item DefaultItem) (DefaultItem, error)

	// DeleteDefault removes a default. It fails with ErrDefaultInUse while
	// overrides reference it.
	DeleteDefault(ctx context.Context, id uuid.UUID) error

	// ListOverrides returns overrides for service, or all when empty.
	ListOverrides(ctx context.Context, service string) ([]Override, error)

	// UpsertOverride inserts or updates the override for (service, defaultItemID).
	UpsertOverride(ctx context.Context, service string, defaultItemID uuid.UUID, rate money.Rate) (Override, error)

	// DeleteOverride removes the override for (service, defaultItemID).
	DeleteOverride(ctx context.Context, service string, defaultItemID uuid.UUID) error
}
