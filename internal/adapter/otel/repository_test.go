package otel_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	adapter "github.com/neomorfeo/propgate/internal/adapter/otel"
	"github.com/neomorfeo/propgate/internal/domain"
)

// --- Test tracer setup ---

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

// --- Mock repository ---

type mockRepo struct {
	approvals map[string]domain.PropertyApproval
}

func newMockRepo() *mockRepo {
	return &mockRepo{approvals: make(map[string]domain.PropertyApproval)}
}

func (m *mockRepo) Create(_ context.Context, a domain.PropertyApproval) error {
	m.approvals[a.PropertyID] = a
	return nil
}

func (m *mockRepo) Get(_ context.Context, propertyID string) (domain.PropertyApproval, error) {
	a, ok := m.approvals[propertyID]
	if !ok {
		return domain.PropertyApproval{}, domain.ErrApprovalNotFound
	}
	return a, nil
}

func (m *mockRepo) GetByToken(_ context.Context, token string) (domain.PropertyApproval, error) {
	for _, a := range m.approvals {
		if a.ContinuationToken == token && token != "" {
			return a, nil
		}
	}
	return domain.PropertyApproval{}, domain.ErrApprovalNotFound
}

func (m *mockRepo) Update(_ context.Context, a domain.PropertyApproval) error {
	if _, ok := m.approvals[a.PropertyID]; !ok {
		return domain.ErrApprovalNotFound
	}
	m.approvals[a.PropertyID] = a
	return nil
}

const tracedPropertyID = "usa/anytown/main-street/111"

// --- Tests ---

func TestTracingRepository_Create_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	approval := domain.NewPropertyApproval(tracedPropertyID)
	if err := repo.Create(context.Background(), approval); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "ApprovalRepository.Create" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "ApprovalRepository.Create")
	}

	assertAttribute(t, spans[0], "property.id", tracedPropertyID)
	assertAttribute(t, spans[0], "approval.status", "PENDING")
}

func TestTracingRepository_Get_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	repo := adapter.NewTracingRepository(newMockRepo())

	if _, err := repo.Get(context.Background(), tracedPropertyID); err == nil {
		t.Fatal("expected error for missing approval")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status.Code)
	}
}

func TestTracingRepository_GetByToken_OmitsToken(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	approval := domain.NewPropertyApproval(tracedPropertyID)
	approval.Status = domain.StatusAwaitingContract
	approval.ContinuationToken = "secret-token"
	inner.approvals[tracedPropertyID] = approval

	if _, err := repo.GetByToken(context.Background(), "secret-token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	for _, attr := range spans[0].Attributes {
		if attr.Value.Emit() == "secret-token" {
			t.Error("continuation token leaked into span attributes")
		}
	}
	assertAttribute(t, spans[0], "property.id", tracedPropertyID)
}

func TestTracingRepository_Update_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	approval := domain.NewPropertyApproval(tracedPropertyID)
	inner.approvals[tracedPropertyID] = approval

	approval.Status = domain.StatusContentCheck
	if err := repo.Update(context.Background(), approval); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	assertAttribute(t, spans[0], "approval.status", "CONTENT_CHECK")
}

func assertAttribute(t *testing.T, span tracetest.SpanStub, key, want string) {
	t.Helper()
	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			got := attr.Value.Emit()
			if got != want {
				t.Errorf("attribute %q = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %q not found on span %q", key, span.Name)
}
