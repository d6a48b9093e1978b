package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys of the cost tracker.
const (
	AttrScope      = "costtrack.scope"
	AttrResourceID = "costtrack.resource.id"
	AttrMonth      = "costtrack.month"
	AttrEventID    = "costtrack.event.id"
	AttrEventType  = "costtrack.event.type"
	AttrCount      = "costtrack.count"
)

// Scope returns the attribute of an estimate scope reference.
func Scope(ref string) attribute.KeyValue {
	return attribute.String(AttrScope, ref)
}

// ResourceID returns the attribute of a resource id.
func ResourceID(id string) attribute.KeyValue {
	return attribute.String(AttrResourceID, id)
}

// Month returns the attribute of an estimate month ("2016-08").
func Month(month string) attribute.KeyValue {
	return attribute.String(AttrMonth, month)
}

// Event returns the attributes identifying a lifecycle event.
func Event(id, eventType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrEventID, id),
		attribute.String(AttrEventType, eventType),
	}
}

// Count returns a counter attribute under the costtrack.count namespace,
// e.g. Count("rollover.scopes", 12).
func Count(name string, n int) attribute.KeyValue {
	return attribute.Int(AttrCount+"."+name, n)
}
