package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, EventMeta{EventID: "e1", EventType: "calendar.working_hours.changed"}.Headers())
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent not injected: %#v", headers)
	}
	if HeaderValue(headers, HeaderEventID) != "e1" {
		t.Fatalf("existing headers lost: %#v", headers)
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if got.TraceID() != traceID {
		t.Fatalf("expected trace %s, got %s", traceID, got.TraceID())
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	msg := kafka.Message{Topic: "calendar.events", Key: []byte("agent-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "agent-1" || meta.EventType != "calendar.events" || meta.AgentID != "" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}
