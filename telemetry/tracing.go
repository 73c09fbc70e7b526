// Package telemetry provides distributed tracing setup using OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracerProvider   *sdktrace.TracerProvider
	isTracingEnabled = false
)

// SampleRatioEnv selects the fraction of root traces kept, in [0, 1].
// Unset keeps every trace.
const SampleRatioEnv = "TRACE_SAMPLE_RATIO"

// InitTracing initializes OpenTelemetry tracing with OTLP/gRPC exporter.
// If OTEL_EXPORTER_OTLP_ENDPOINT is not set, tracing is disabled (no-op).
// extra is added to the resource, e.g. the guild and panel host this bot serves.
func InitTracing(serviceName, serviceVersion string, extra ...attribute.KeyValue) (func(), error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}
	sampler, err := samplerFromEnv()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttrs(serviceName, serviceVersion, extra)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tracerProvider)
	isTracingEnabled = true
	slog.Info("tracing initialized", slog.String("service", serviceName), slog.String("endpoint", endpoint),
		slog.String("sampler", sampler.Description()))

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.Any("err", err))
		}
	}, nil
}

// samplerFromEnv honours the parent's decision and samples new roots at
// TRACE_SAMPLE_RATIO, so a sampled HTTP request keeps its dispatch spans.
func samplerFromEnv() (sdktrace.Sampler, error) {
	v := os.Getenv(SampleRatioEnv)
	if v == "" {
		return sdktrace.AlwaysSample(), nil
	}
	ratio, err := strconv.ParseFloat(v, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("invalid %s %q: want a number in [0, 1]", SampleRatioEnv, v)
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
}

func resourceAttrs(serviceName, serviceVersion string, extra []attribute.KeyValue) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		semconv.ServiceNamespace("team7636"),
	}
	if env := os.Getenv("BOT_ENV"); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	return append(attrs, extra...)
}

// IsTracingEnabled returns whether tracing is active.
func IsTracingEnabled() bool {
	return isTracingEnabled
}

// StartSpan is a helper to start a span with common attributes and correlation ID.
// Without a configured provider the global no-op tracer is used.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)

	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
	return ctx, span
}

// RecordError records an error on the span and sets error status.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// EventTypeAttr tags a span with the event-stream frame type.
func EventTypeAttr(t string) attribute.KeyValue { return attribute.String("stream.event_type", t) }

// DiscordUserAttr tags a span with the Discord user it acts for.
func DiscordUserAttr(id string) attribute.KeyValue { return attribute.String("discord.user_id", id) }

// HTTPMethodAttr returns the semconv attribute for the request method.
func HTTPMethodAttr(method string) attribute.KeyValue { return semconv.HTTPMethod(method) }

// HTTPRouteAttr returns the semconv attribute for the matched route.
func HTTPRouteAttr(route string) attribute.KeyValue { return semconv.HTTPRoute(route) }

// SetSpanHTTPStatus records the response status code on span.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPStatusCode(status))
}

// ErrorStatus returns the span status pair used for failed operations.
func ErrorStatus(msg string) (codes.Code, string) { return codes.Error, msg }
