package storage

import (
	"context"
	"errors"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/period"
	"mercator-hq/costtrack/pkg/scope"
)

var (
	// ErrConflict is returned when an optimistic version check fails or the
	// database reports a serialization conflict. The transaction can be retried.
	ErrConflict = errors.New("storage conflict")

	// ErrTimeout is returned when a transaction exceeds its deadline.
	ErrTimeout = errors.New("storage timeout")

	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
)

// Store persists estimates and consumption records. Every read and write
// happens inside a transaction.
type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// Tx is the transactional view of a Store.
type Tx interface {
	estimate.Tx

	// GetConsumption returns nil, nil when there is no record.
	GetConsumption(ctx context.Context, resourceID string, month period.Month) (*consumption.Details, error)

	// SaveConsumption inserts or replaces a record.
	SaveConsumption(ctx context.Context, d *consumption.Details) error

	// DeleteConsumption removes every record of a resource.
	DeleteConsumption(ctx context.Context, resourceID string) error

	// ListConsumption returns every record of month, ordered by resource.
	ListConsumption(ctx context.Context, month period.Month) ([]*consumption.Details, error)

	// ListMonth returns every estimate of month, ordered by scope.
	ListMonth(ctx context.Context, month period.Month) ([]*estimate.PriceEstimate, error)

	// ListScope returns every estimate of ref, oldest month first.
	ListScope(ctx context.Context, ref scope.Ref) ([]*estimate.PriceEstimate, error)

	// LatestMonthBefore returns the most recent month earlier than before
	// that has any estimate.
	LatestMonthBefore(ctx context.Context, before period.Month) (period.Month, bool, error)

	// ResetMonthTotals zeroes Total and Consumed of every estimate of month.
	ResetMonthTotals(ctx context.Context, month period.Month) error
}
