package cost

import (
	"context"
	"fmt"

	"mercator-hq/costtrack/pkg/cost/events"
	"mercator-hq/costtrack/pkg/telemetry/logging"
	"mercator-hq/costtrack/pkg/telemetry/tracing"
)

// Handle applies one resource event. It implements events.Handler.
func (t *Tracker) Handle(ctx context.Context, ev events.Event) (err error) {
	ctx, span := t.startSpan(ctx, "cost.Handle", tracing.Event(ev.ID.String(), string(ev.Type))...)
	defer func() { tracing.End(span, err) }()
	ctx = logging.WithEventID(ctx, ev.ID.String())
	defer func() { t.metrics.RecordEvent(ev.Type, err) }()

	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Type {
	case events.TypeResourceChanged:
		_, err = t.UpdateResource(ctx, ev.ResourceID, ev.Configuration, ev.Time)
	case events.TypeResourceErred:
		err = t.MarkErred(ctx, ev.ResourceID, ev.Time)
	case events.TypeResourceDeleted:
		err = t.DeleteResource(ctx, ev.ResourceID, ev.Time)
	case events.TypeResourceUnlinked:
		err = t.UnlinkResource(ctx, ev.ResourceID)
	case events.TypeResourceImported:
		_, err = t.ImportHistory(ctx, ev.ResourceID, ev.CreatedAt, ev.Configuration, ev.Time)
	case events.TypeScopeDeleted:
		err = t.DeleteScope(ctx, ev.Scope, ev.Time)
	default:
		err = fmt.Errorf("%w: unknown type %q", events.ErrInvalidEvent, ev.Type)
	}

	if err != nil {
		t.logger.DebugContext(ctx, "Event failed",
			"event_type", ev.Type,
			"class", Classify(err).String(),
			"error", err,
		)
	}
	return err
}
