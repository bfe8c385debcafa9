package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func TestStartSpan(t *testing.T) {
	sr := withRecorder(t)

	_, span := StartSpan(context.Background(), SpanAnalyze, attribute.String("deployment", "gpt-4o"))
	span.End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != SpanAnalyze {
		t.Errorf("expected span %s, got %s", SpanAnalyze, spans[0].Name())
	}
	attrs := spans[0].Attributes()
	if len(attrs) != 1 || attrs[0].Value.AsString() != "gpt-4o" {
		t.Errorf("expected deployment attribute, got %v", attrs)
	}
}

func TestRecordError(t *testing.T) {
	sr := withRecorder(t)

	_, span := StartSpan(context.Background(), SpanSession)
	RecordError(span, nil)
	RecordError(span, errors.New("stream reset"))
	span.End()

	got := sr.Ended()[0]
	if got.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", got.Status().Code)
	}
	if got.Status().Description != "stream reset" {
		t.Errorf("expected description 'stream reset', got %s", got.Status().Description)
	}
	if len(got.Events()) != 1 {
		t.Errorf("expected 1 recorded error event, got %d", len(got.Events()))
	}
}

func TestInit_NoEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := Init(context.Background(), Config{ServiceName: "speech2text", SampleRate: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := StartSpan(context.Background(), SpanPipeline)
	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, sdktrace.AlwaysSample().Description()},
		{2.0, sdktrace.AlwaysSample().Description()},
		{0, sdktrace.NeverSample().Description()},
		{0.5, sdktrace.TraceIDRatioBased(0.5).Description()},
	}

	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("rate %v: expected %s, got %s", tt.rate, tt.want, got)
		}
	}
}
