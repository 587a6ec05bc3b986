// Package tracing wraps query and mutation fetch attempts in OpenTelemetry
// spans, exercised directly by the fetch path on every attempt.
//
// Tracing is a no-op (the global no-op TracerProvider) until the host
// application registers a real one, so it never changes the engine's
// observable behavior.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/orneryd/rquery"

// Attempt wraps fn in a span named spanName, tagged with the cache key and
// attempt number. The span's status is set to Error (and the error
// recorded) when fn returns a non-nil error.
func Attempt(ctx context.Context, spanName, key string, attempt int, fn func(ctx context.Context) error) error {
	return AttemptFor(ctx, spanName, "", key, attempt, fn)
}

// AttemptFor is Attempt with an additional engine instance identifier
// attached to the span, letting a trace backend distinguish concurrent
// observers of the same cache key (multiple Engine instances subscribed to
// one key). instanceID is omitted from the span when empty.
func AttemptFor(ctx context.Context, spanName, instanceID, key string, attempt int, fn func(ctx context.Context) error) error {
	tracer := otel.Tracer(tracerName)
	attrs := []attribute.KeyValue{
		attribute.String("rquery.key", key),
		attribute.Int("rquery.attempt", attempt),
	}
	if instanceID != "" {
		attrs = append(attrs, attribute.String("rquery.instance", instanceID))
	}
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
