package telemetry

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSamplerFromEnv(t *testing.T) {
	tests := []struct {
		value   string
		want    string
		wantErr bool
	}{
		{value: "", want: "AlwaysOnSampler"},
		{value: "0.25", want: "TraceIDRatioBased{0.25}"},
		{value: "0", want: "TraceIDRatioBased{0}"},
		{value: "1.5", wantErr: true},
		{value: "-0.1", wantErr: true},
		{value: "half", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv(SampleRatioEnv, tt.value)
			s, err := samplerFromEnv()
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), SampleRatioEnv) {
					t.Fatalf("err = %v, want rejection naming %s", err, SampleRatioEnv)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(s.Description(), tt.want) {
				t.Errorf("sampler = %s, want %s", s.Description(), tt.want)
			}
		})
	}
}

func TestInitTracingRejectsBadRatio(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	t.Setenv(SampleRatioEnv, "lots")
	if _, err := InitTracing("robomania-bot", "test"); err == nil {
		t.Fatal("expected an error for a malformed sample ratio")
	}
	if IsTracingEnabled() {
		t.Fatal("tracing must stay disabled after a failed init")
	}
}

func TestResourceAttrs(t *testing.T) {
	t.Setenv("BOT_ENV", "staging")
	attrs := resourceAttrs("robomania-bot", "1.2.3", []attribute.KeyValue{attribute.String("discord.guild_id", "99")})
	got := map[string]string{}
	for _, a := range attrs {
		got[string(a.Key)] = a.Value.Emit()
	}
	want := map[string]string{
		"service.name":           "robomania-bot",
		"service.version":        "1.2.3",
		"service.namespace":      "team7636",
		"deployment.environment": "staging",
		"discord.guild_id":       "99",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestStartSpanCarriesCorrelation(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := WithCorrelation(context.Background(), "corr-1")
	_, span := StartSpan(ctx, "stream", "dispatch auth.new_login", EventTypeAttr("auth.new_login"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	got := map[string]string{}
	for _, a := range spans[0].Attributes() {
		got[string(a.Key)] = a.Value.Emit()
	}
	if got["correlation_id"] != "corr-1" || got["stream.event_type"] != "auth.new_login" {
		t.Errorf("attributes = %v", got)
	}
}
