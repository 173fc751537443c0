package run

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for engine runs.
const TracerName = "mailsift"

// Span attribute keys
const (
	AttrRunID      = "run_id"
	AttrThreadID   = "thread_id"
	AttrDomain     = "domain"
	AttrAttachment = "attachment"
	AttrReason     = "reason"
	AttrInvoice    = "invoice"
)

// Span names
const (
	SpanRun        = "mailsift.run"
	SpanThread     = "mailsift.thread"
	SpanAttachment = "mailsift.attachment"
)

// Tracer provides tracing for engine runs.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a run tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartRunSpan starts the root span for a run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(attribute.String(AttrRunID, runID)))
}

// StartThreadSpan starts a span for one thread.
func (t *Tracer) StartThreadSpan(ctx context.Context, threadID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanThread,
		trace.WithAttributes(attribute.String(AttrThreadID, threadID)))
}

// StartAttachmentSpan starts a span for one attachment.
func (t *Tracer) StartAttachmentSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAttachment,
		trace.WithAttributes(attribute.String(AttrAttachment, name)))
}

// EndSpan closes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
