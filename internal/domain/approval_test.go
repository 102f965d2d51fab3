package domain_test

import (
	"testing"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

func TestNewPropertyApproval(t *testing.T) {
	before := time.Now().UTC()
	approval := domain.NewPropertyApproval("usa/anytown/main-street/111")
	after := time.Now().UTC()

	if approval.PropertyID != "usa/anytown/main-street/111" {
		t.Errorf("PropertyID = %q, want %q", approval.PropertyID, "usa/anytown/main-street/111")
	}
	if approval.Status != domain.StatusPending {
		t.Errorf("Status = %q, want %q", approval.Status, domain.StatusPending)
	}
	if approval.ContinuationToken != "" {
		t.Errorf("ContinuationToken = %q, want empty", approval.ContinuationToken)
	}
	if approval.Reason != "" {
		t.Errorf("Reason = %q, want empty", approval.Reason)
	}
	if approval.CreatedAt.Before(before) || approval.CreatedAt.After(after) {
		t.Errorf("CreatedAt = %v, want between %v and %v", approval.CreatedAt, before, after)
	}
	if approval.UpdatedAt != approval.CreatedAt {
		t.Error("UpdatedAt should equal CreatedAt on new approval")
	}
}

func TestEvaluationStatus_Terminal(t *testing.T) {
	terminal := []domain.EvaluationStatus{domain.StatusApproved, domain.StatusDeclined}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}

	live := []domain.EvaluationStatus{domain.StatusPending, domain.StatusContentCheck, domain.StatusAwaitingContract}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestTransitions_AllEventsHaveEntries(t *testing.T) {
	events := []domain.Event{
		domain.EventContractFound,
		domain.EventNoContract,
		domain.EventContentRejected,
		domain.EventEvaluationFailed,
		domain.EventContractPending,
		domain.EventContractApproved,
	}

	for _, event := range events {
		found := false
		for _, tr := range domain.Transitions {
			if tr.Event == event {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("event %q has no transition defined", event)
		}
	}
}

func TestTransitions_ValidPaths(t *testing.T) {
	cases := []struct {
		event domain.Event
		src   domain.EvaluationStatus
		dst   domain.EvaluationStatus
	}{
		{domain.EventContractFound, domain.StatusPending, domain.StatusContentCheck},
		{domain.EventNoContract, domain.StatusPending, domain.StatusDeclined},
		{domain.EventContentRejected, domain.StatusContentCheck, domain.StatusDeclined},
		{domain.EventEvaluationFailed, domain.StatusContentCheck, domain.StatusDeclined},
		{domain.EventContractApproved, domain.StatusContentCheck, domain.StatusApproved},
		{domain.EventContractPending, domain.StatusContentCheck, domain.StatusAwaitingContract},
		// The resume path: approved contract wakes a suspended instance.
		{domain.EventContractApproved, domain.StatusAwaitingContract, domain.StatusApproved},
	}

	for _, tc := range cases {
		found := false
		for _, tr := range domain.Transitions {
			if tr.Event == tc.event && tr.Src == tc.src && tr.Dst == tc.dst {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing transition: %q from %q → %q", tc.event, tc.src, tc.dst)
		}
	}
}

func TestTransitions_NoExitFromTerminalStates(t *testing.T) {
	for _, tr := range domain.Transitions {
		if tr.Src.Terminal() {
			t.Errorf("transition %q must not leave terminal state %q", tr.Event, tr.Src)
		}
	}
}

func TestTransitions_InvalidPaths(t *testing.T) {
	// These transitions must NOT exist.
	invalid := []struct {
		event domain.Event
		src   domain.EvaluationStatus
	}{
		{domain.EventContractFound, domain.StatusContentCheck},
		{domain.EventNoContract, domain.StatusAwaitingContract},
		{domain.EventContentRejected, domain.StatusPending},
		{domain.EventContractPending, domain.StatusPending},
		{domain.EventContractApproved, domain.StatusPending},
		{domain.EventContractPending, domain.StatusAwaitingContract},
	}

	for _, tc := range invalid {
		for _, tr := range domain.Transitions {
			if tr.Event == tc.event && tr.Src == tc.src {
				t.Errorf("unexpected transition: %q from %q should not exist", tc.event, tc.src)
			}
		}
	}
}
