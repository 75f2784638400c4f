package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/xert-bridge/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache operations"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented counts the operations of a wrapped cache, tagging each with
// the cache name and whether a lookup hit.
type Instrumented[T any] struct {
	wrapped Cache[T]
	name    string
}

var _ Cache[string] = (*Instrumented[string])(nil)

// NewInstrumented wraps cache so its operations are recorded under name.
func NewInstrumented[T any](cache Cache[T], name string) *Instrumented[T] {
	initMetrics()
	return &Instrumented[T]{
		wrapped: cache,
		name:    name,
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool) {
	value, found := i.wrapped.Get(ctx, key)

	status := "miss"
	if found {
		status = "hit"
	}
	i.record(ctx, "get", status)

	return value, found
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) {
	i.wrapped.Set(ctx, key, value)
	i.record(ctx, "set", "success")
}

func (i *Instrumented[T]) record(ctx context.Context, operation, status string) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("cache.name", i.name),
		attribute.String("cache."+operation+".status", status),
	)

	if cacheOperations == nil {
		return
	}
	cacheOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache.name", i.name),
			attribute.String("cache.operation", operation),
			attribute.String("cache.status", status),
		),
	)
}
