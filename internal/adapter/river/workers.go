package river

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/propgate/internal/domain"
	"github.com/neomorfeo/propgate/internal/event"
)

// Starter begins a new approval instance. Satisfied by app.Orchestrator.
type Starter interface {
	Start(ctx context.Context, snapshot domain.ListingSnapshot) (domain.PropertyApproval, error)
}

// ContractUpserter replicates contract status records. Satisfied by the
// sqlite contract status store.
type ContractUpserter interface {
	Upsert(ctx context.Context, record domain.ContractStatusRecord) (applied bool, err error)
}

// Deliverer hands a completed-event envelope to the external bus. Satisfied
// by the amqp publisher.
type Deliverer interface {
	Deliver(ctx context.Context, env event.Envelope) error
}

// ApprovalRequestedArgs carries a raw inbound approval-request envelope.
// Validation happens in the worker so malformed payloads are judged at the
// point of consumption, with the dead-letter store as the verdict.
type ApprovalRequestedArgs struct {
	Envelope json.RawMessage `json:"envelope"`
}

func (ApprovalRequestedArgs) Kind() string { return "approval.requested" }

// ContractStatusChangedArgs carries a raw inbound contract-status envelope.
type ContractStatusChangedArgs struct {
	Envelope json.RawMessage `json:"envelope"`
}

func (ContractStatusChangedArgs) Kind() string { return "contract.status_changed" }

// ApprovalRequestedWorker decodes approval requests and starts workflow
// instances. Malformed envelopes are recorded and cancelled, never retried;
// transient orchestrator failures return the error so River retries.
type ApprovalRequestedWorker struct {
	river.WorkerDefaults[ApprovalRequestedArgs]
	starter Starter
	letters domain.DeadLetters
}

func NewApprovalRequestedWorker(starter Starter, letters domain.DeadLetters) *ApprovalRequestedWorker {
	return &ApprovalRequestedWorker{starter: starter, letters: letters}
}

func (w *ApprovalRequestedWorker) Work(ctx context.Context, job *river.Job[ApprovalRequestedArgs]) error {
	payload, err := decodeApprovalRequested(job.Args.Envelope)
	if err != nil {
		return w.deadLetter(ctx, job.Args.Envelope, err)
	}

	_, err = w.starter.Start(ctx, payload.Snapshot())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrApprovalTerminal):
		slog.WarnContext(ctx, "approval request for already evaluated property, dropping",
			"property_id", payload.PropertyID,
			"job_id", job.ID,
		)
		return nil
	default:
		var invalidID *domain.InvalidPropertyIDError
		if errors.As(err, &invalidID) {
			return w.deadLetter(ctx, job.Args.Envelope, err)
		}
		return err
	}
}

func (w *ApprovalRequestedWorker) deadLetter(ctx context.Context, payload []byte, cause error) error {
	slog.ErrorContext(ctx, "rejecting approval request", "error", cause)
	if err := w.letters.Add(ctx, domain.DeadLetter{
		Source:  event.SourceWeb,
		Reason:  cause.Error(),
		Payload: payload,
	}); err != nil {
		return err
	}
	return river.JobCancel(cause)
}

// ContractStatusChangedWorker replicates contract mutations into the local
// store. The store's last-write-wins guard makes redelivery and reordering
// harmless, so the worker never inspects ordering itself.
type ContractStatusChangedWorker struct {
	river.WorkerDefaults[ContractStatusChangedArgs]
	store   ContractUpserter
	letters domain.DeadLetters
}

func NewContractStatusChangedWorker(store ContractUpserter, letters domain.DeadLetters) *ContractStatusChangedWorker {
	return &ContractStatusChangedWorker{store: store, letters: letters}
}

func (w *ContractStatusChangedWorker) Work(ctx context.Context, job *river.Job[ContractStatusChangedArgs]) error {
	payload, err := decodeContractStatusChanged(job.Args.Envelope)
	if err != nil {
		slog.ErrorContext(ctx, "rejecting contract status change", "error", err)
		if addErr := w.letters.Add(ctx, domain.DeadLetter{
			Source:  event.SourceContracts,
			Reason:  err.Error(),
			Payload: job.Args.Envelope,
		}); addErr != nil {
			return addErr
		}
		return river.JobCancel(err)
	}

	applied, err := w.store.Upsert(ctx, payload.Record())
	if err != nil {
		return err
	}
	if !applied {
		slog.DebugContext(ctx, "stale contract status change, ignored",
			"property_id", payload.PropertyID,
			"contract_last_modified_on", payload.ContractLastModifiedOn,
		)
	}
	return nil
}

// EvaluationCompletedWorker drains the outbox: it wraps each terminal
// outcome in an envelope and hands it to the bus publisher.
type EvaluationCompletedWorker struct {
	river.WorkerDefaults[EvaluationCompletedArgs]
	deliverer Deliverer
}

func NewEvaluationCompletedWorker(deliverer Deliverer) *EvaluationCompletedWorker {
	return &EvaluationCompletedWorker{deliverer: deliverer}
}

func (w *EvaluationCompletedWorker) Work(ctx context.Context, job *river.Job[EvaluationCompletedArgs]) error {
	env, err := event.New(event.SourceApprovals, event.TypeEvaluationCompleted, event.PublicationEvaluationCompleted{
		PropertyID:       job.Args.PropertyID,
		EvaluationResult: job.Args.Result,
	})
	if err != nil {
		return river.JobCancel(err)
	}

	if err := w.deliverer.Deliver(ctx, env); err != nil {
		return err
	}

	slog.InfoContext(ctx, "evaluation result delivered",
		"property_id", job.Args.PropertyID,
		"result", job.Args.Result,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}

func decodeApprovalRequested(raw json.RawMessage) (event.PublicationApprovalRequested, error) {
	env, err := event.Parse(raw)
	if err != nil {
		return event.PublicationApprovalRequested{}, err
	}
	return event.DecodeApprovalRequested(env)
}

func decodeContractStatusChanged(raw json.RawMessage) (event.ContractStatusChanged, error) {
	env, err := event.Parse(raw)
	if err != nil {
		return event.ContractStatusChanged{}, err
	}
	return event.DecodeContractStatusChanged(env)
}
