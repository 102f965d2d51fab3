package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/propgate/internal/domain"
)

const tracerName = "github.com/neomorfeo/propgate/internal/adapter/otel"

// TracingRepository wraps a domain.ApprovalRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and records
// errors.
type TracingRepository struct {
	next   domain.ApprovalRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.ApprovalRepository.
var _ domain.ApprovalRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.ApprovalRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, approval domain.PropertyApproval) error {
	ctx, span := r.tracer.Start(ctx, "ApprovalRepository.Create",
		trace.WithAttributes(
			attribute.String("property.id", approval.PropertyID),
			attribute.String("approval.status", string(approval.Status)),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, approval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) Get(ctx context.Context, propertyID string) (domain.PropertyApproval, error) {
	ctx, span := r.tracer.Start(ctx, "ApprovalRepository.Get",
		trace.WithAttributes(attribute.String("property.id", propertyID)),
	)
	defer span.End()

	approval, err := r.next.Get(ctx, propertyID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return approval, err
}

func (r *TracingRepository) GetByToken(ctx context.Context, token string) (domain.PropertyApproval, error) {
	// The token itself is a credential for resuming the instance; only its
	// presence is recorded.
	ctx, span := r.tracer.Start(ctx, "ApprovalRepository.GetByToken")
	defer span.End()

	approval, err := r.next.GetByToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String("property.id", approval.PropertyID))
	}
	return approval, err
}

func (r *TracingRepository) Update(ctx context.Context, approval domain.PropertyApproval) error {
	ctx, span := r.tracer.Start(ctx, "ApprovalRepository.Update",
		trace.WithAttributes(
			attribute.String("property.id", approval.PropertyID),
			attribute.String("approval.status", string(approval.Status)),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, approval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
