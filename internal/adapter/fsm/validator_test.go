package fsm_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/propgate/internal/adapter/fsm"
	"github.com/neomorfeo/propgate/internal/domain"
)

func TestValidator_AllTransitions(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, tr := range domain.Transitions {
		dst, err := v.Apply(ctx, tr.Src, tr.Event)
		if err != nil {
			t.Errorf("Apply(%q, %q) unexpected error: %v", tr.Src, tr.Event, err)
			continue
		}
		if dst != tr.Dst {
			t.Errorf("Apply(%q, %q) = %q, want %q", tr.Src, tr.Event, dst, tr.Dst)
		}
	}
}

func TestValidator_InvalidTransition(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	// A contract approval signal is meaningless before the content check.
	_, err := v.Apply(ctx, domain.StatusPending, domain.EventContractApproved)
	var trErr *domain.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if trErr.Event != domain.EventContractApproved {
		t.Errorf("event = %q, want %q", trErr.Event, domain.EventContractApproved)
	}
	if trErr.Current != domain.StatusPending {
		t.Errorf("current = %q, want %q", trErr.Current, domain.StatusPending)
	}
}

func TestValidator_TerminalStatesAreFinal(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	for _, terminal := range []domain.EvaluationStatus{domain.StatusApproved, domain.StatusDeclined} {
		for _, tr := range domain.Transitions {
			if _, err := v.Apply(ctx, terminal, tr.Event); err == nil {
				t.Errorf("Apply(%q, %q) should fail: terminal states are immutable", terminal, tr.Event)
			}
		}
	}
}

func TestValidator_SuspendAndResumePath(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	steps := []struct {
		from  domain.EvaluationStatus
		event domain.Event
		want  domain.EvaluationStatus
	}{
		{domain.StatusPending, domain.EventContractFound, domain.StatusContentCheck},
		{domain.StatusContentCheck, domain.EventContractPending, domain.StatusAwaitingContract},
		{domain.StatusAwaitingContract, domain.EventContractApproved, domain.StatusApproved},
	}

	for _, step := range steps {
		got, err := v.Apply(ctx, step.from, step.event)
		if err != nil {
			t.Fatalf("Apply(%q, %q) error: %v", step.from, step.event, err)
		}
		if got != step.want {
			t.Errorf("Apply(%q, %q) = %q, want %q", step.from, step.event, got, step.want)
		}
	}
}

func TestValidator_ApproveWithoutWait(t *testing.T) {
	v := adapter.New()
	ctx := context.Background()

	// Contract already approved at content-check time skips the wait.
	got, err := v.Apply(ctx, domain.StatusContentCheck, domain.EventContractApproved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != domain.StatusApproved {
		t.Errorf("got %q, want %q", got, domain.StatusApproved)
	}
}
