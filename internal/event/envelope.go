// Package event defines the wire contracts for the approval workflow: the
// envelope shared by all events, the typed payloads, and schema validation
// at the dispatch boundary.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source namespaces for event producers.
const (
	SourceWeb       = "propgate.web"
	SourceContracts = "propgate.contracts"
	SourceApprovals = "propgate.approvals"
)

// Detail types routed over the bus.
const (
	TypeApprovalRequested     = "PublicationApprovalRequested"
	TypeContractStatusChanged = "ContractStatusChanged"
	TypeEvaluationCompleted   = "PublicationEvaluationCompleted"
)

// SchemaVersion is the current envelope schema version.
const SchemaVersion = "1.0"

// Envelope wraps every event with identity and routing metadata. The detail
// payload stays raw until it has been validated against its schema.
type Envelope struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Time       time.Time       `json:"time"`
	Version    string          `json:"version"`
	Detail     json.RawMessage `json:"detail"`
}

// New wraps a payload in an envelope with a fresh id and the current time.
func New(source, detailType string, detail any) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s detail: %w", detailType, err)
	}
	return Envelope{
		ID:         uuid.NewString(),
		Source:     source,
		DetailType: detailType,
		Time:       time.Now().UTC(),
		Version:    SchemaVersion,
		Detail:     raw,
	}, nil
}

// Parse decodes an envelope from raw bytes and checks the required metadata
// fields are present.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &ValidationError{Reason: fmt.Sprintf("envelope is not valid JSON: %v", err)}
	}
	if env.ID == "" || env.Source == "" || env.DetailType == "" {
		return Envelope{}, &ValidationError{
			DetailType: env.DetailType,
			Reason:     "envelope missing required metadata (id, source, detail-type)",
		}
	}
	if len(env.Detail) == 0 {
		return Envelope{}, &ValidationError{DetailType: env.DetailType, Reason: "envelope has no detail payload"}
	}
	return env, nil
}

// ValidationError marks a payload that failed contract validation. Carriers
// route these to the dead-letter store; they are never retried.
type ValidationError struct {
	DetailType string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.DetailType == "" {
		return fmt.Sprintf("event validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("event validation failed for %s: %s", e.DetailType, e.Reason)
}
