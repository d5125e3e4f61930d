// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package tracing wires OpenTelemetry for the pwacache process.
package tracing

import (
	"context"
	"os"
	"strings"

	"github.com/apex/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported on every exported span.
const ServiceName = "pwacache"

// Setup registers a global tracer provider that exports over OTLP/HTTP.
//
// Export is opt-in: with PWACACHE_OTEL_ENDPOINT empty, or
// PWACACHE_OTEL_ENABLED set to "false", nothing is registered and the
// global no-op provider stays in place. The returned shutdown flushes
// pending spans.
func Setup(ctx context.Context, version string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv("PWACACHE_OTEL_ENABLED"), "false") {
		return noop, nil
	}
	endpoint := os.Getenv("PWACACHE_OTEL_ENDPOINT")
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Debugf("tracing to %s", endpoint)
	return tp.Shutdown, nil
}
