package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"gymstream/domain"
)

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	})
	return tp, exporter
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func TestBroadcastEmitsSpan(t *testing.T) {
	tp, exporter := setupTestTracer(t)
	logger, hook := test.NewNullLogger()
	registry := NewRegistry()
	b := NewBroadcaster(registry, logger, time.Second)
	registry.Add(NewConnection("ok", "org-1", nil, "u1", &memWriter{}))
	registry.Add(NewConnection("bad", "org-1", nil, "u2", errWriter{}))

	b.Broadcast(context.Background(), checkinEvent("org-1", nil), nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != broadcastSpanName {
		t.Fatalf("unexpected span name: %s", span.Name)
	}
	if span.Status.Code != codes.Ok {
		t.Fatalf("expected span status Ok, got %v", span.Status.Code)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["gymstream.event.type"] != domain.VisitCheckin {
		t.Fatalf("unexpected event type attribute: %#v", attrs["gymstream.event.type"])
	}
	if attrs["gymstream.event.org_id"] != "org-1" {
		t.Fatalf("unexpected org attribute: %#v", attrs["gymstream.event.org_id"])
	}
	if got, ok := attrs["gymstream.broadcast.targets"].(int64); !ok || got != 2 {
		t.Fatalf("unexpected targets attribute: %#v", attrs["gymstream.broadcast.targets"])
	}
	if got, ok := attrs["gymstream.broadcast.delivered"].(int64); !ok || got != 1 {
		t.Fatalf("unexpected delivered attribute: %#v", attrs["gymstream.broadcast.delivered"])
	}
	if got, ok := attrs["gymstream.broadcast.pruned"].(int64); !ok || got != 1 {
		t.Fatalf("unexpected pruned attribute: %#v", attrs["gymstream.broadcast.pruned"])
	}
	if _, exists := attrs["gymstream.broadcast.error_stage"]; exists {
		t.Fatalf("expected no error stage on a delivered broadcast, got %#v", attrs["gymstream.broadcast.error_stage"])
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "broadcast.metrics" {
		t.Fatalf("expected broadcast.metrics log entry, got %#v", entry)
	}
	if entry.Data["targets"] != 2 || entry.Data["delivered"] != 1 || entry.Data["pruned"] != 1 {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
}

func TestBroadcastMetricsErrorStageSetsSpanStatus(t *testing.T) {
	tp, exporter := setupTestTracer(t)
	logger, hook := test.NewNullLogger()

	m, _ := newBroadcastMetrics(context.Background(), logger, domain.PaymentFailed, "org-1")
	m.SetTargets(0)
	m.SetErrorStage("serialize")
	boom := errors.New("marshal failure")

	m.Log(boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Fatalf("expected span status error, got %v", span.Status.Code)
	}
	if span.Status.Description != "serialize" {
		t.Fatalf("unexpected status description: %q", span.Status.Description)
	}
	attrs := attributesToMap(span.Attributes)
	if attrs["gymstream.broadcast.error_stage"] != "serialize" {
		t.Fatalf("expected error stage attribute, got %#v", attrs["gymstream.broadcast.error_stage"])
	}

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected log entry")
	}
	if entry.Data["error_stage"] != "serialize" {
		t.Fatalf("expected error_stage field, got %#v", entry.Data)
	}
	if entry.Data["error"] != boom.Error() {
		t.Fatalf("expected error field, got %#v", entry.Data)
	}
}
