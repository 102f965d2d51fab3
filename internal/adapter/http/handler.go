// Package http exposes the synchronous inspection and request API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	goriver "github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	riveradapter "github.com/neomorfeo/propgate/internal/adapter/river"
	"github.com/neomorfeo/propgate/internal/domain"
	"github.com/neomorfeo/propgate/internal/event"
)

// ApprovalReader looks up approval instances. Satisfied by app.Orchestrator.
type ApprovalReader interface {
	Status(ctx context.Context, propertyID string) (domain.PropertyApproval, error)
}

// ContractReader looks up replicated contract records. Satisfied by the
// sqlite contract status store.
type ContractReader interface {
	Get(ctx context.Context, propertyID string) (domain.ContractStatusRecord, error)
}

// Enqueuer enqueues durable jobs. Satisfied by the River client.
type Enqueuer interface {
	Insert(ctx context.Context, args goriver.JobArgs, opts *goriver.InsertOpts) (*rivertype.JobInsertResult, error)
}

const timeFormat = "2006-01-02T15:04:05Z"

// ApprovalResponse is the API representation of an approval instance.
type ApprovalResponse struct {
	PropertyID string `json:"property_id" doc:"Hierarchical property identifier"`
	Status     string `json:"status" doc:"Evaluation status"`
	Reason     string `json:"reason,omitempty" doc:"Decline reason, when declined"`
	CreatedAt  string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt  string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toApprovalResponse(a domain.PropertyApproval) ApprovalResponse {
	return ApprovalResponse{
		PropertyID: a.PropertyID,
		Status:     string(a.Status),
		Reason:     string(a.Reason),
		CreatedAt:  a.CreatedAt.Format(timeFormat),
		UpdatedAt:  a.UpdatedAt.Format(timeFormat),
	}
}

// ContractResponse is the API representation of a replicated contract record.
type ContractResponse struct {
	PropertyID     string `json:"property_id" doc:"Hierarchical property identifier"`
	ContractID     string `json:"contract_id" doc:"Upstream contract identifier"`
	ContractStatus string `json:"contract_status" doc:"Replicated contract status"`
	LastModifiedOn string `json:"last_modified_on" doc:"Upstream modification timestamp"`
	Waiting        bool   `json:"waiting" doc:"Whether an approval instance is suspended on this contract"`
}

// --- Request Approval ---

type RequestApprovalInput struct {
	Body struct {
		PropertyID  string   `json:"property_id" doc:"Hierarchical identifier (country/city/street/number)"`
		Country     string   `json:"country" minLength:"1" doc:"Address country"`
		City        string   `json:"city" minLength:"1" doc:"Address city"`
		Street      string   `json:"street" minLength:"1" doc:"Address street"`
		Number      int      `json:"number" doc:"Address number"`
		Description string   `json:"description" doc:"Listing description"`
		Images      []string `json:"images" doc:"Listing image keys"`
		ListPrice   int64    `json:"listprice,omitempty" doc:"Asking price"`
		Currency    string   `json:"currency,omitempty" doc:"Price currency"`
		Contract    string   `json:"contract,omitempty" doc:"Contract reference"`
	}
}

type RequestApprovalOutput struct {
	Status int
	Body   ApprovalResponse
}

// --- Property id from path segments ---

type propertyPathInput struct {
	Country string `path:"country" doc:"Address country"`
	City    string `path:"city" doc:"Address city"`
	Street  string `path:"street" doc:"Address street"`
	Number  string `path:"number" doc:"Address number"`
}

func (in propertyPathInput) propertyID() string {
	return fmt.Sprintf("%s/%s/%s/%s", in.Country, in.City, in.Street, in.Number)
}

type GetApprovalOutput struct {
	Body ApprovalResponse
}

type GetContractOutput struct {
	Body ContractResponse
}

// Register adds all approval API routes to the Huma API. Approval requests
// are accepted asynchronously: the handler validates, enqueues the same
// ingestion job the event bus produces, and returns 202.
func Register(api huma.API, approvals ApprovalReader, contracts ContractReader, jobs Enqueuer) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-approval",
		Method:        http.MethodPost,
		Path:          "/api/v1/approvals",
		Summary:       "Request publication approval for a listing",
		Tags:          []string{"Approvals"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *RequestApprovalInput) (*RequestApprovalOutput, error) {
		if !domain.ValidPropertyID(input.Body.PropertyID) {
			return nil, huma.Error422UnprocessableEntity(
				(&domain.InvalidPropertyIDError{ID: input.Body.PropertyID}).Error())
		}

		// Duplicate requests are judged here rather than in the worker so
		// the caller gets an answer instead of a silent drop.
		existing, err := approvals.Status(ctx, input.Body.PropertyID)
		switch {
		case err == nil && existing.Status.Terminal():
			return nil, huma.Error409Conflict("property already evaluated")
		case err == nil:
			return &RequestApprovalOutput{Status: http.StatusAccepted, Body: toApprovalResponse(existing)}, nil
		case !errors.Is(err, domain.ErrApprovalNotFound):
			return nil, toHumaError(err)
		}

		payload := event.PublicationApprovalRequested{
			PropertyID: input.Body.PropertyID,
			Address: event.Address{
				Country: input.Body.Country,
				City:    input.Body.City,
				Street:  input.Body.Street,
				Number:  input.Body.Number,
			},
			Description: input.Body.Description,
			Images:      input.Body.Images,
			ListPrice:   input.Body.ListPrice,
			Currency:    input.Body.Currency,
			Contract:    input.Body.Contract,
			Status:      string(domain.StatusPending),
		}
		env, err := event.New(event.SourceWeb, event.TypeApprovalRequested, payload)
		if err != nil {
			return nil, toHumaError(err)
		}
		raw, err := json.Marshal(env)
		if err != nil {
			return nil, toHumaError(err)
		}
		if _, err := jobs.Insert(ctx, riveradapter.ApprovalRequestedArgs{Envelope: raw}, nil); err != nil {
			return nil, toHumaError(err)
		}

		return &RequestApprovalOutput{
			Status: http.StatusAccepted,
			Body: ApprovalResponse{
				PropertyID: input.Body.PropertyID,
				Status:     string(domain.StatusPending),
			},
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/api/v1/approvals/{country}/{city}/{street}/{number}",
		Summary:     "Get the evaluation status of a property",
		Tags:        []string{"Approvals"},
	}, func(ctx context.Context, input *propertyPathInput) (*GetApprovalOutput, error) {
		approval, err := approvals.Status(ctx, input.propertyID())
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetApprovalOutput{Body: toApprovalResponse(approval)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contract",
		Method:      http.MethodGet,
		Path:        "/api/v1/contracts/{country}/{city}/{street}/{number}",
		Summary:     "Get the replicated contract status of a property",
		Tags:        []string{"Contracts"},
	}, func(ctx context.Context, input *propertyPathInput) (*GetContractOutput, error) {
		record, err := contracts.Get(ctx, input.propertyID())
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetContractOutput{Body: ContractResponse{
			PropertyID:     record.PropertyID,
			ContractID:     record.ContractID,
			ContractStatus: string(record.ContractStatus),
			LastModifiedOn: record.LastModifiedOn.Format(timeFormat),
			Waiting:        record.PendingContinuationToken != "",
		}}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrApprovalNotFound) {
		return huma.Error404NotFound("approval not found")
	}
	if errors.Is(err, domain.ErrContractNotFound) {
		return huma.Error404NotFound("contract not found")
	}
	if errors.Is(err, domain.ErrApprovalTerminal) {
		return huma.Error409Conflict("property already evaluated")
	}

	var invalidID *domain.InvalidPropertyIDError
	if errors.As(err, &invalidID) {
		return huma.Error422UnprocessableEntity(invalidID.Error())
	}

	var validationErr *event.ValidationError
	if errors.As(err, &validationErr) {
		return huma.Error422UnprocessableEntity(validationErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
