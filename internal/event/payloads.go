package event

import (
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// Address mirrors the address block on an approval request.
type Address struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Street  string `json:"street"`
	Number  int    `json:"number"`
}

// PublicationApprovalRequested is emitted by the web/catalog domain when a
// listing owner asks for publication.
type PublicationApprovalRequested struct {
	PropertyID  string   `json:"property_id"`
	Address     Address  `json:"address"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	ListPrice   int64    `json:"listprice"`
	Currency    string   `json:"currency"`
	Contract    string   `json:"contract"`
	Status      string   `json:"status"`
}

// Snapshot converts the payload into the domain listing snapshot.
func (p PublicationApprovalRequested) Snapshot() domain.ListingSnapshot {
	return domain.ListingSnapshot{
		PropertyID: p.PropertyID,
		Address: domain.Address{
			Country: p.Address.Country,
			City:    p.Address.City,
			Street:  p.Address.Street,
			Number:  p.Address.Number,
		},
		Description: p.Description,
		Images:      p.Images,
		ListPrice:   p.ListPrice,
		Currency:    p.Currency,
		Contract:    p.Contract,
		Status:      p.Status,
	}
}

// ContractStatusChanged is emitted by the contracts domain on every contract
// mutation.
type ContractStatusChanged struct {
	PropertyID             string    `json:"property_id"`
	ContractID             string    `json:"contract_id"`
	ContractStatus         string    `json:"contract_status"`
	ContractLastModifiedOn time.Time `json:"contract_last_modified_on"`
}

// Record converts the payload into the domain contract status record.
func (p ContractStatusChanged) Record() domain.ContractStatusRecord {
	return domain.ContractStatusRecord{
		PropertyID:     p.PropertyID,
		ContractID:     p.ContractID,
		ContractStatus: domain.ContractStatus(p.ContractStatus),
		LastModifiedOn: p.ContractLastModifiedOn,
	}
}

// PublicationEvaluationCompleted is emitted by the approval orchestrator when
// an instance reaches a terminal state.
type PublicationEvaluationCompleted struct {
	PropertyID       string `json:"property_id"`
	EvaluationResult string `json:"evaluation_result"`
}
