package domain

import "time"

// EvaluationStatus represents the lifecycle state of a publication approval.
type EvaluationStatus string

const (
	StatusPending          EvaluationStatus = "PENDING"
	StatusContentCheck     EvaluationStatus = "CONTENT_CHECK"
	StatusAwaitingContract EvaluationStatus = "AWAITING_CONTRACT"
	StatusApproved         EvaluationStatus = "APPROVED"
	StatusDeclined         EvaluationStatus = "DECLINED"
)

// Terminal reports whether the status is final. Terminal approvals are
// immutable: no further transition, resume, or restart is allowed.
func (s EvaluationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// DeclineReason distinguishes why an approval ended in DECLINED.
type DeclineReason string

const (
	ReasonNoContract            DeclineReason = "NO_CONTRACT"
	ReasonUnsafeContent         DeclineReason = "UNSAFE_CONTENT"
	ReasonEvaluationUnavailable DeclineReason = "EVALUATION_UNAVAILABLE"
)

// Event represents an action that triggers a state transition.
type Event string

const (
	EventContractFound    Event = "contract_found"
	EventNoContract       Event = "no_contract"
	EventContentRejected  Event = "content_rejected"
	EventEvaluationFailed Event = "evaluation_failed"
	EventContractPending  Event = "contract_pending"
	EventContractApproved Event = "contract_approved"
)

// Transition defines a valid state change: an event moves an approval from Src to Dst.
type Transition struct {
	Event Event
	Src   EvaluationStatus
	Dst   EvaluationStatus
}

// Transitions defines all valid state changes in the approval lifecycle.
// This is domain knowledge consumed by the FSM adapter.
var Transitions = []Transition{
	{Event: EventContractFound, Src: StatusPending, Dst: StatusContentCheck},
	{Event: EventNoContract, Src: StatusPending, Dst: StatusDeclined},
	{Event: EventContentRejected, Src: StatusContentCheck, Dst: StatusDeclined},
	{Event: EventEvaluationFailed, Src: StatusContentCheck, Dst: StatusDeclined},
	{Event: EventContractApproved, Src: StatusContentCheck, Dst: StatusApproved},
	{Event: EventContractPending, Src: StatusContentCheck, Dst: StatusAwaitingContract},
	{Event: EventContractApproved, Src: StatusAwaitingContract, Dst: StatusApproved},
}

// PropertyApproval is a single durable workflow instance, keyed by property.
// ContinuationToken is set only while the instance is suspended in
// AWAITING_CONTRACT; it correlates the instance with the contract mutation
// that will resume it.
type PropertyApproval struct {
	PropertyID        string
	Status            EvaluationStatus
	Reason            DeclineReason
	ContinuationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPropertyApproval creates an approval instance in the initial PENDING state.
func NewPropertyApproval(propertyID string) PropertyApproval {
	now := time.Now().UTC()
	return PropertyApproval{
		PropertyID: propertyID,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
