// Package events carries resource lifecycle events from the orchestration
// layer to the cost tracker.
//
// Events are partitioned by their key (the resource id, or the scope for
// scope deletions) onto a fixed set of workers, so events of one resource
// are handled in publish order while different resources proceed in
// parallel. Failed events are retried with exponential backoff according to
// the disposition returned by the classifier; events that exhaust their
// attempts go to a dead-letter queue.
//
// The wire format is newline-delimited JSON, one Event per line:
//
//	{"type":"resource_changed","resource_id":"vm1","time":"2016-08-08T11:00:00Z",
//	 "configuration":[{"item_type":"storage","key":"1 MB","usage":20480}]}
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mercator-hq/costtrack/pkg/cost/consumption"
	"mercator-hq/costtrack/pkg/scope"
)

// Type is the kind of an event.
type Type string

const (
	// TypeResourceChanged carries the new configuration of a resource.
	TypeResourceChanged Type = "resource_changed"

	// TypeResourceDeleted freezes the estimates of a resource.
	TypeResourceDeleted Type = "resource_deleted"

	// TypeResourceUnlinked removes a resource from cost tracking entirely.
	TypeResourceUnlinked Type = "resource_unlinked"

	// TypeResourceImported backfills the months since CreatedAt.
	TypeResourceImported Type = "resource_imported"

	// TypeResourceErred reports that a resource entered an error state.
	TypeResourceErred Type = "resource_erred"

	// TypeScopeDeleted freezes the estimates of a non-resource scope.
	TypeScopeDeleted Type = "scope_deleted"
)

// ErrInvalidEvent is returned for malformed events.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one resource lifecycle event.
type Event struct {
	ID   uuid.UUID
	Type Type

	// ResourceID is set for resource events.
	ResourceID string

	// Scope is set for scope deletions.
	Scope scope.Ref

	// Time is when the change happened.
	Time time.Time

	// CreatedAt is the resource creation time of an import.
	CreatedAt time.Time

	// Configuration is the new configuration of a changed or imported
	// resource.
	Configuration consumption.Usage

	// Trace is the W3C trace context of the publisher.
	Trace map[string]string
}

// ResourceChanged returns a change event.
func ResourceChanged(resourceID string, config consumption.Usage, at time.Time) Event {
	return Event{ID: uuid.New(), Type: TypeResourceChanged, ResourceID: resourceID, Configuration: config, Time: at}
}

// ResourceDeleted returns a deletion event.
func ResourceDeleted(resourceID string, at time.Time) Event {
	return Event{ID: uuid.New(), Type: TypeResourceDeleted, ResourceID: resourceID, Time: at}
}

// ResourceUnlinked returns an unlink event.
func ResourceUnlinked(resourceID string, at time.Time) Event {
	return Event{ID: uuid.New(), Type: TypeResourceUnlinked, ResourceID: resourceID, Time: at}
}

// ResourceErred returns an error-state event.
func ResourceErred(resourceID string, at time.Time) Event {
	return Event{ID: uuid.New(), Type: TypeResourceErred, ResourceID: resourceID, Time: at}
}

// ResourceImported returns an import event for a resource that has existed
// since createdAt.
func ResourceImported(resourceID string, createdAt time.Time, config consumption.Usage, at time.Time) Event {
	return Event{ID: uuid.New(), Type: TypeResourceImported, ResourceID: resourceID,
		CreatedAt: createdAt, Configuration: config, Time: at}
}

// ScopeDeleted returns a scope deletion event.
func ScopeDeleted(ref scope.Ref, at time.Time) Event {
	return Event{ID: uuid.New(), Type: TypeScopeDeleted, Scope: ref, Time: at}
}

// Key returns the partition key of the event.
func (e Event) Key() string {
	if e.Type == TypeScopeDeleted {
		return e.Scope.String()
	}
	return e.ResourceID
}

// Validate checks that the event carries what its type needs.
func (e Event) Validate() error {
	if e.Time.IsZero() {
		return fmt.Errorf("%w: %s without time", ErrInvalidEvent, e.Type)
	}
	switch e.Type {
	case TypeResourceChanged, TypeResourceImported:
		if e.ResourceID == "" {
			return fmt.Errorf("%w: %s without resource_id", ErrInvalidEvent, e.Type)
		}
		if err := e.Configuration.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		if e.Type == TypeResourceImported && e.CreatedAt.IsZero() {
			return fmt.Errorf("%w: import without created_at", ErrInvalidEvent)
		}
	case TypeResourceDeleted, TypeResourceUnlinked, TypeResourceErred:
		if e.ResourceID == "" {
			return fmt.Errorf("%w: %s without resource_id", ErrInvalidEvent, e.Type)
		}
	case TypeScopeDeleted:
		if !e.Scope.Kind.Valid() || e.Scope.ID == "" {
			return fmt.Errorf("%w: scope_deleted without scope", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
