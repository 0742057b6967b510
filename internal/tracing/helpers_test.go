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
	"go.opentelemetry.io/otel/trace"
)

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	keepGlobalProvider(t)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder
}

func attrMap(kvs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		operation DBOperation
		wantName  string
	}{
		{"query with table", "activity_events", DBOperationQuery, "query activity_events"},
		{"insert with table", "risk_audit_log", DBOperationInsert, "insert risk_audit_log"},
		{"query without table", "", DBOperationQuery, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := newRecorder(t)

			_, end := StartDBSpan(context.Background(), tt.table, tt.operation)
			end(nil)

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("span kind = %v, want client", span.SpanKind())
			}
			if span.InstrumentationScope().Name != dbTracerName {
				t.Errorf("scope = %q, want %q", span.InstrumentationScope().Name, dbTracerName)
			}
			attrs := attrMap(span.Attributes())
			if attrs["db.system"] != "postgresql" || attrs["db.operation"] != string(tt.operation) {
				t.Errorf("unexpected attributes: %v", attrs)
			}
			if _, ok := attrs["db.sql.table"]; ok != (tt.table != "") {
				t.Errorf("db.sql.table present = %v, want %v", ok, tt.table != "")
			}
		})
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	recorder := newRecorder(t)

	_, end := StartSpan(context.Background(), "risk.assess")
	end(errors.New("store unavailable"))
	_, end = StartSpan(context.Background(), "ranking.recommend")
	end(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error || spans[0].Status().Description != "store unavailable" {
		t.Errorf("failed span status = %+v", spans[0].Status())
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("expected the error to be recorded as an event")
	}
	if spans[1].Status().Code != codes.Unset {
		t.Errorf("ok span status = %v, want unset", spans[1].Status().Code)
	}
	if spans[1].InstrumentationScope().Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[1].InstrumentationScope().Name, tracerName)
	}
}

func TestAddEventAndSetAttributes(t *testing.T) {
	recorder := newRecorder(t)

	ctx, end := StartSpan(context.Background(), "geo.resolve")
	SetAttributes(ctx, attribute.String("geo.source", "provider"), attribute.Bool("geo.cache_hit", false))
	AddEvent(ctx, "geo.sentinel", attribute.String("kind", "local"))
	end(nil)

	span := recorder.Ended()[0]
	attrs := attrMap(span.Attributes())
	if attrs["geo.source"] != "provider" || attrs["geo.cache_hit"] != "false" {
		t.Errorf("unexpected attributes: %v", attrs)
	}
	events := span.Events()
	if len(events) != 1 || events[0].Name != "geo.sentinel" {
		t.Fatalf("unexpected events: %+v", events)
	}

	// Without an active span both helpers are no-ops.
	SetAttributes(context.Background(), attribute.String("k", "v"))
	AddEvent(context.Background(), "nothing")
}
