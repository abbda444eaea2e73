package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config configures the telemetry stack.
type Config struct {
	// Service metadata
	ServiceName    string
	ServiceVersion string
	Environment    string // dev, staging, prod

	// MetricReader is the pluggable export side (Prometheus, OTLP,
	// stdout). Nil disables export; instruments become no-ops.
	MetricReader sdkmetric.Reader

	Logger *slog.Logger
}

// Telemetry holds the initialized providers and instruments.
type Telemetry struct {
	MeterProvider metric.MeterProvider
	Metrics       *Metrics
	Logger        *slog.Logger

	shutdown func(context.Context) error
}

// Init initializes OpenTelemetry metrics with graceful degradation:
// without a reader the provider is a functional no-op and every
// recorded value is dropped, so callers never branch on "metrics on".
func Init(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.MetricReader != nil {
		opts = append(opts, sdkmetric.WithReader(cfg.MetricReader))
	} else {
		cfg.Logger.Info("metrics export disabled (no reader configured)")
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp.Meter(cfg.ServiceName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &Telemetry{
		MeterProvider: mp,
		Metrics:       metrics,
		Logger:        cfg.Logger,
		shutdown:      mp.Shutdown,
	}, nil
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	if err := t.shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown telemetry: %w", err)
	}
	return nil
}
