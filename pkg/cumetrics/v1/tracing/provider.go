package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider gives the scrape endpoint access to tracers without tying it
// to a particular OpenTelemetry setup.
type TracerProvider interface {
	// GetTracer returns a Tracer with the given instrumentation name.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans. The context should carry a deadline.
	// No-op providers return nil.
	Shutdown(ctx context.Context) error
}
