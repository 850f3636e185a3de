package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants for the coordination surfaces
const (
	// SpanOperationStoreQuery represents a shared-store read
	SpanOperationStoreQuery SpanOperation = "store.query"
	// SpanOperationStoreInsert represents a shared-store insert
	SpanOperationStoreInsert SpanOperation = "store.insert"
	// SpanOperationStoreUpdate represents a version-guarded update
	SpanOperationStoreUpdate SpanOperation = "store.update"
	// SpanOperationStoreDelete represents a shared-store delete
	SpanOperationStoreDelete SpanOperation = "store.delete"

	// SpanOperationLeaseClaim represents one lease claim attempt
	SpanOperationLeaseClaim SpanOperation = "lease.claim"
	// SpanOperationLeaseRelease represents a voluntary lease relinquish
	SpanOperationLeaseRelease SpanOperation = "lease.release"

	// SpanOperationJobClaim represents claiming a queued job
	SpanOperationJobClaim SpanOperation = "job.claim"
	// SpanOperationJobExecute represents running a claimed job
	SpanOperationJobExecute SpanOperation = "job.execute"
	// SpanOperationJobHeartbeat represents a job heartbeat write
	SpanOperationJobHeartbeat SpanOperation = "job.heartbeat"
	// SpanOperationJobReclaim represents a stalled-job reclaim pass
	SpanOperationJobReclaim SpanOperation = "job.reclaim"
)

// StartStoreSpan creates a new span for a shared-store operation.
func StartStoreSpan(ctx context.Context, operation SpanOperation, opts ...StoreSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("store")

	spanOpts := &storeSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("store.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("STORE %s", operation)
	if spanOpts.table != "" {
		spanName = fmt.Sprintf("STORE %s %s", operation, spanOpts.table)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// StoreSpanOption configures a store span.
type StoreSpanOption func(*storeSpanOptions)

type storeSpanOptions struct {
	table      string
	attributes []attribute.KeyValue
}

// WithStoreTable sets the table or key space the operation touches.
func WithStoreTable(table string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.table = table
		opts.attributes = append(opts.attributes, attribute.String("store.table", table))
	}
}

// WithStoreSystem sets the store system (e.g., "postgresql", "mysql", "redis").
func WithStoreSystem(system string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("store.system", system))
	}
}

// StartLeaseSpan creates a new span for a lease claim or release.
func StartLeaseSpan(ctx context.Context, operation SpanOperation, opts ...LeaseSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("lease")

	spanOpts := &leaseSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("lease.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("LEASE %s", operation)
	if spanOpts.name != "" {
		spanName = fmt.Sprintf("LEASE %s %s", operation, spanOpts.name)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// LeaseSpanOption configures a lease span.
type LeaseSpanOption func(*leaseSpanOptions)

type leaseSpanOptions struct {
	name       string
	attributes []attribute.KeyValue
}

// WithLeaseName sets the lease name.
func WithLeaseName(name string) LeaseSpanOption {
	return func(opts *leaseSpanOptions) {
		opts.name = name
		opts.attributes = append(opts.attributes, attribute.String("lease.name", name))
	}
}

// WithLeaseOwner sets the claiming owner identity.
func WithLeaseOwner(owner string) LeaseSpanOption {
	return func(opts *leaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("lease.owner", owner))
	}
}

// WithLeaseOutcome records the claim outcome (acquired, renewed, lost, ...).
func WithLeaseOutcome(outcome string) LeaseSpanOption {
	return func(opts *leaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("lease.outcome", outcome))
	}
}

// StartJobSpan creates a new span for a hosted-job operation.
func StartJobSpan(ctx context.Context, operation SpanOperation, opts ...JobSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("jobhost")

	spanOpts := &jobSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("job.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("JOB %s", operation)
	if spanOpts.queue != "" {
		spanName = fmt.Sprintf("JOB %s queue=%s", operation, spanOpts.queue)
	}

	spanKind := trace.SpanKindInternal
	if operation == SpanOperationJobExecute {
		spanKind = trace.SpanKindConsumer
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// JobSpanOption configures a job span.
type JobSpanOption func(*jobSpanOptions)

type jobSpanOptions struct {
	queue      string
	attributes []attribute.KeyValue
}

// WithJobQueue sets the queue identifier.
func WithJobQueue(queue string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.queue = queue
		opts.attributes = append(opts.attributes, attribute.String("job.queue", queue))
	}
}

// WithJobID sets the job identifier.
func WithJobID(id int64) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int64("job.id", id))
	}
}

// WithJobWorker sets the executing worker identity.
func WithJobWorker(worker string) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("job.worker", worker))
	}
}

// WithJobAttempt sets the execution attempt number.
func WithJobAttempt(attempt int) JobSpanOption {
	return func(opts *jobSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("job.attempt", attempt))
	}
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
