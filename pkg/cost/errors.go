package cost

import (
	"context"
	"errors"

	"mercator-hq/costtrack/pkg/cost/backend"
	"mercator-hq/costtrack/pkg/cost/catalog"
	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/cost/estimate"
	"mercator-hq/costtrack/pkg/cost/events"
	"mercator-hq/costtrack/pkg/cost/storage"
)

var (
	// ErrStaleEvent is returned for an event older than the last one
	// applied to the same resource.
	ErrStaleEvent = errors.New("stale event")

	// ErrUnknownScope is returned for resources and scopes the graph does
	// not know.
	ErrUnknownScope = errors.New("unknown scope")
)

// Class groups errors by how the caller should react to them.
type Class int

const (
	// ClassOther is any error not listed below. It is retried.
	ClassOther Class = iota

	// ClassTemporal covers events that arrive for the wrong time.
	ClassTemporal

	// ClassStore covers conflicts and timeouts of the store.
	ClassStore

	// ClassCatalog covers missing prices.
	ClassCatalog

	// ClassInvariant covers broken aggregation invariants.
	ClassInvariant

	// ClassAdapter covers backend adapter failures.
	ClassAdapter

	// ClassRejected covers events that can never apply: unknown scopes,
	// frozen estimates and malformed events.
	ClassRejected
)

func (c Class) String() string {
	switch c {
	case ClassTemporal:
		return "temporal"
	case ClassStore:
		return "store"
	case ClassCatalog:
		return "catalog"
	case ClassInvariant:
		return "invariant"
	case ClassAdapter:
		return "adapter"
	case ClassRejected:
		return "rejected"
	default:
		return "other"
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	var (
		invariant *estimate.InvariantError
		adapter   *backend.AdapterError
	)
	switch {
	case err == nil:
		return ClassOther
	case errors.As(err, &invariant):
		return ClassInvariant
	case errors.Is(err, consumption.ErrUpdatePastMonth),
		errors.Is(err, consumption.ErrClockWentBackwards),
		errors.Is(err, ErrStaleEvent):
		return ClassTemporal
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, storage.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return ClassStore
	case errors.As(err, &adapter), errors.Is(err, backend.ErrNotRegistered):
		return ClassAdapter
	case errors.Is(err, catalog.ErrNoPriceForItem):
		return ClassCatalog
	case errors.Is(err, ErrUnknownScope),
		errors.Is(err, estimate.ErrFrozen),
		errors.Is(err, events.ErrInvalidEvent),
		errors.Is(err, consumption.ErrInvalidItem),
		errors.Is(err, consumption.ErrNegativeUsage):
		return ClassRejected
	default:
		return ClassOther
	}
}

// Disposition maps err to what the event bus does with the failed event:
// store errors and unknown errors are retried, invariant violations are
// fatal, everything else is dropped.
func Disposition(err error) events.Disposition {
	switch Classify(err) {
	case ClassStore, ClassOther:
		return events.Retry
	case ClassInvariant:
		return events.Fatal
	default:
		return events.Drop
	}
}
