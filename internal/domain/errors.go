package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple conditions without extra context.
var (
	ErrApprovalNotFound = errors.New("approval not found")
	ErrContractNotFound = errors.New("contract status not found")
	ErrApprovalTerminal = errors.New("approval already in a terminal state")
)

// InvalidPropertyIDError is returned when a property identifier does not
// conform to the country/city/street/number format.
type InvalidPropertyIDError struct {
	ID string
}

func (e *InvalidPropertyIDError) Error() string {
	return fmt.Sprintf("property id %q does not match country/city/street/number", e.ID)
}

// TransitionError is returned when a state transition is not allowed.
type TransitionError struct {
	Event   Event
	Current EvaluationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid from state %q", e.Event, e.Current)
}

// UnknownSignalError is returned when a resume signal carries a contract
// status the orchestrator does not recognize. The instance stays suspended.
type UnknownSignalError struct {
	Signal ContractStatus
}

func (e *UnknownSignalError) Error() string {
	return fmt.Sprintf("unknown resume signal %q", e.Signal)
}
