// Package tracing provides OpenTelemetry tracing for costtrack.
//
// New builds a tracer provider from the telemetry configuration. Spans are
// exported over OTLP gRPC; when tracing is disabled a noop tracer is
// returned and instrumentation costs next to nothing. The provider's
// trace.Tracer is handed to the cost tracker and the evaluator, which
// open one span per event, rollover, rebuild and evaluator tick.
//
// Trace context crosses two boundaries: HTTP requests to the ops server
// (W3C traceparent headers, see HTTPMiddleware) and the event bus, where
// the publisher's context travels in the event's trace map:
//
//	ev.Trace = tracing.InjectMap(ctx)
//	...
//	ctx = tracing.ExtractMap(ctx, ev.Trace)
//
// Sampling is parent based. Root spans are sampled by trace ID hash at the
// configured ratio.
package tracing
