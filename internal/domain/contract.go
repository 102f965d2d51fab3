package domain

import "time"

// ContractStatus is the contract state replicated from the contracts domain.
// Only DRAFT and APPROVED cross the service boundary.
type ContractStatus string

const (
	ContractDraft    ContractStatus = "DRAFT"
	ContractApproved ContractStatus = "APPROVED"
)

// ContractStatusRecord is the locally replicated copy of a property's
// contract state. At most one record exists per property. LastModifiedOn is
// the upstream modification time and the only ordering defense against
// out-of-order delivery: a record with an equal-or-older timestamp than the
// stored one must not overwrite it.
type ContractStatusRecord struct {
	PropertyID               string
	ContractID               string
	ContractStatus           ContractStatus
	LastModifiedOn           time.Time
	PendingContinuationToken string
}

// Change is one entry in the ordered contract change feed. It snapshots the
// record at mutation time, including any continuation token that was
// attached when the mutation landed.
type Change struct {
	Seq               int64
	PropertyID        string
	ContractStatus    ContractStatus
	ContinuationToken string
	ChangedAt         time.Time
}

// DeadLetter holds a message that failed processing and must not be silently
// dropped or retried. Requires operator intervention.
type DeadLetter struct {
	ID         int64
	Source     string
	Reason     string
	Payload    []byte
	ReceivedAt time.Time
}
