package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Configure installs the global tracer and meter providers. When telemetry
// is disabled nothing is installed and the returned shutdown does nothing.
// The shutdown function flushes and stops every exporter that was started.
func Configure(ctx context.Context, cfg config.ObserveConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		log.Info().Msg("telemetry: disabled")
		return func(context.Context) error { return nil }, nil
	}

	if cfg.Type != "grpc" && cfg.Type != "stdout" {
		return nil, fmt.Errorf("unsupported telemetry exporter type %q, expected grpc or stdout", cfg.Type)
	}

	configureOtelLogging(cfg.SDKLogLevel)

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource creation failed: %w", err)
	}

	tracerProvider, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	if cfg.MetricsEnabled {
		meterProvider, err := newMeterProvider(ctx, cfg, res)
		if err != nil {
			return nil, errors.Join(err, shutdown(ctx))
		}
		shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
		otel.SetMeterProvider(meterProvider)
	}

	log.Info().
		Str("type", cfg.Type).
		Bool("metrics", cfg.MetricsEnabled).
		Msg("telemetry: configured")

	return shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg config.ObserveConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch cfg.Type {
	case "stdout":
		exporter, err = stdouttrace.New()
	default:
		exporter, err = otlptracegrpc.New(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("trace exporter creation failed: %w", err)
	}

	batchTimeout := time.Duration(cfg.TraceBatchTimeoutSeconds) * time.Second

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg config.ObserveConfig, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)

	switch cfg.Type {
	case "stdout":
		exporter, err = stdoutmetric.New()
	default:
		exporter, err = otlpmetricgrpc.New(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("metric exporter creation failed: %w", err)
	}

	readInterval := time.Duration(cfg.MetricReadIntervalSeconds) * time.Second

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(readInterval))),
	), nil
}

// configureOtelLogging routes SDK diagnostics through zerolog at their own
// level, independent of the application level.
func configureOtelLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("telemetry: unknown SDK log level, using info")
		lvl = zerolog.InfoLevel
	}

	logger := log.Logger.Level(lvl).With().Str("component", "otel").Logger()
	otel.SetLogger(zerologr.New(&logger))

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn().Err(err).Msg("telemetry: SDK error")
	}))
}

// HTTPTransport instruments outbound requests when telemetry is enabled,
// optionally recording connection-level events as span events.
func HTTPTransport(wrapped http.RoundTripper, cfg config.ObserveConfig) http.RoundTripper {
	if !cfg.Enabled || !cfg.HTTPTransportEnabled {
		return wrapped
	}

	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Host
		}),
	}

	if cfg.HTTPConnectionTraceEnabled {
		opts = append(opts, otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
			return otelhttptrace.NewClientTrace(ctx)
		}))
	}

	return otelhttp.NewTransport(wrapped, opts...)
}
