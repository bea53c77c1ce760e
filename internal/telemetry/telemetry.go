// Package telemetry sets up the OpenTelemetry meter provider.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const exportInterval = 15 * time.Second

// Config defines the information needed to init metrics.
type Config struct {
	ServiceName string
	// ExporterEndpoint is an OTLP gRPC collector address. Empty keeps the
	// instruments in-process only.
	ExporterEndpoint string
}

// NewResource creates a new OpenTelemetry resource with service name.
func NewResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
}

// Init builds the meter provider, registers it globally and returns a
// cleanup function that flushes and stops it.
func Init(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, func(ctx context.Context), error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(NewResource(cfg.ServiceName))}

	if cfg.ExporterEndpoint != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err := otlpmetricgrpc.New(dialCtx,
			otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval)),
		))
		log.Info().Str("endpoint", cfg.ExporterEndpoint).Msg("exporting metrics over otlp")
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	cleanup := func(ctx context.Context) {
		if err := mp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutting down meter provider")
		}
	}
	return mp, cleanup, nil
}
