package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(provider)

	return spanRecorder
}

func assertSpanAttrs(t *testing.T, span sdktrace.ReadOnlySpan, expected map[string]interface{}) {
	t.Helper()

	attrs := span.Attributes()
	for key, expectedValue := range expected {
		found := false
		for _, attr := range attrs {
			if string(attr.Key) == key {
				found = true
				if attr.Value.AsInterface() != expectedValue {
					t.Errorf("expected attribute %s=%v, got %v", key, expectedValue, attr.Value.AsInterface())
				}
				break
			}
		}
		if !found {
			t.Errorf("expected attribute %s not found", key)
		}
	}
}

func TestStartStoreSpan(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []StoreSpanOption
		expectedName  string
		expectedAttrs map[string]interface{}
	}{
		{
			name:         "query without options",
			operation:    SpanOperationStoreQuery,
			opts:         nil,
			expectedName: "STORE store.query",
			expectedAttrs: map[string]interface{}{
				"store.operation": "store.query",
			},
		},
		{
			name:      "update with table and system",
			operation: SpanOperationStoreUpdate,
			opts: []StoreSpanOption{
				WithStoreTable("flockwork_jobs"),
				WithStoreSystem("postgresql"),
			},
			expectedName: "STORE store.update flockwork_jobs",
			expectedAttrs: map[string]interface{}{
				"store.operation": "store.update",
				"store.table":     "flockwork_jobs",
				"store.system":    "postgresql",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()

			_, span := StartStoreSpan(ctx, tt.operation, tt.opts...)
			if span == nil {
				t.Fatal("expected span to be non-nil")
			}
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.expectedName {
				t.Errorf("expected span name %q, got %q", tt.expectedName, spans[0].Name())
			}
			assertSpanAttrs(t, spans[0], tt.expectedAttrs)
		})
	}
}

func TestStartLeaseSpan(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []LeaseSpanOption
		expectedName  string
		expectedAttrs map[string]interface{}
	}{
		{
			name:         "claim without options",
			operation:    SpanOperationLeaseClaim,
			opts:         nil,
			expectedName: "LEASE lease.claim",
			expectedAttrs: map[string]interface{}{
				"lease.operation": "lease.claim",
			},
		},
		{
			name:      "claim with all options",
			operation: SpanOperationLeaseClaim,
			opts: []LeaseSpanOption{
				WithLeaseName("job-retention"),
				WithLeaseOwner("host-a-1f3b"),
				WithLeaseOutcome("acquired"),
			},
			expectedName: "LEASE lease.claim job-retention",
			expectedAttrs: map[string]interface{}{
				"lease.operation": "lease.claim",
				"lease.name":      "job-retention",
				"lease.owner":     "host-a-1f3b",
				"lease.outcome":   "acquired",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()

			_, span := StartLeaseSpan(ctx, tt.operation, tt.opts...)
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.expectedName {
				t.Errorf("expected span name %q, got %q", tt.expectedName, spans[0].Name())
			}
			assertSpanAttrs(t, spans[0], tt.expectedAttrs)
		})
	}
}

func TestStartJobSpan(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []JobSpanOption
		expectedName  string
		expectedAttrs map[string]interface{}
	}{
		{
			name:         "execute without options",
			operation:    SpanOperationJobExecute,
			opts:         nil,
			expectedName: "JOB job.execute",
			expectedAttrs: map[string]interface{}{
				"job.operation": "job.execute",
			},
		},
		{
			name:      "execute with all options",
			operation: SpanOperationJobExecute,
			opts: []JobSpanOption{
				WithJobQueue("7"),
				WithJobID(42),
				WithJobWorker("host-b-9c21"),
				WithJobAttempt(2),
			},
			expectedName: "JOB job.execute queue=7",
			expectedAttrs: map[string]interface{}{
				"job.operation": "job.execute",
				"job.queue":     "7",
				"job.id":        int64(42),
				"job.worker":    "host-b-9c21",
				"job.attempt":   int64(2),
			},
		},
		{
			name:         "reclaim pass",
			operation:    SpanOperationJobReclaim,
			opts:         []JobSpanOption{WithJobQueue("3")},
			expectedName: "JOB job.reclaim queue=3",
			expectedAttrs: map[string]interface{}{
				"job.operation": "job.reclaim",
				"job.queue":     "3",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()

			_, span := StartJobSpan(ctx, tt.operation, tt.opts...)
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.expectedName {
				t.Errorf("expected span name %q, got %q", tt.expectedName, spans[0].Name())
			}
			assertSpanAttrs(t, spans[0], tt.expectedAttrs)
		})
	}
}

func TestRecordError(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	_, span := StartJobSpan(ctx, SpanOperationJobExecute)
	RecordError(span, errors.New("handler exploded"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected an error event on the span")
	}
}

func TestRecordError_NilErrorLeavesStatus(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	_, span := StartJobSpan(ctx, SpanOperationJobExecute)
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if spans[0].Status().Code == codes.Error {
		t.Error("nil error must not set error status")
	}
}

func TestRecordSuccess(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	_, span := StartLeaseSpan(ctx, SpanOperationLeaseClaim)
	RecordSuccess(span)
	span.End()

	spans := recorder.Ended()
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected OK status, got %v", spans[0].Status().Code)
	}
}
