package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newSampler returns a parent-based sampler for ratio. Roots are always
// sampled at 1, never at 0 and by trace ID hash in between, so every span
// of a trace shares one decision.
func newSampler(ratio float64) (sdktrace.Sampler, error) {
	var root sdktrace.Sampler
	switch {
	case ratio < 0 || ratio > 1:
		return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
	case ratio == 1:
		root = sdktrace.AlwaysSample()
	case ratio == 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(root), nil
}
