package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Common metric attribute keys.
const (
	OutcomeKey     = "contentflow.outcome"
	PromptNameKey  = "contentflow.llm.prompt"
	CacheResultKey = "contentflow.llm.cache.result"
)

// NewMeter installs a global meter provider that exports over OTLP/HTTP. The
// returned function flushes and stops the exporter.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry metrics
func NewMeter(ctx context.Context, serviceName string) (metric.Meter, func(context.Context) error, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(r),
	)

	otel.SetMeterProvider(mp)

	return mp.Meter(serviceName), mp.Shutdown, nil
}

// NoopMeter returns a meter that records nothing.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry metrics
func NoopMeter() metric.Meter {
	return noop.NewMeterProvider().Meter("contentflow")
}

// Outcome labels a measurement as "ok" or "error".
func Outcome(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
