package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/propgate/internal/domain"
)

// TracingOutbox wraps a domain.Outbox with OpenTelemetry tracing.
type TracingOutbox struct {
	next   domain.Outbox
	tracer trace.Tracer
}

// Compile-time check: TracingOutbox implements domain.Outbox.
var _ domain.Outbox = (*TracingOutbox)(nil)

// NewTracingOutbox creates a tracing decorator around the given outbox.
func NewTracingOutbox(next domain.Outbox) *TracingOutbox {
	return &TracingOutbox{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (o *TracingOutbox) Finalize(ctx context.Context, approval domain.PropertyApproval) error {
	ctx, span := o.tracer.Start(ctx, "Outbox.Finalize",
		trace.WithAttributes(
			attribute.String("property.id", approval.PropertyID),
			attribute.String("evaluation.result", string(approval.Status)),
		),
	)
	defer span.End()

	err := o.next.Finalize(ctx, approval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
