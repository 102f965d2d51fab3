// Package app holds the approval workflow services: the orchestrator that
// drives a publication approval from request to terminal outcome, and the
// dispatcher that wakes suspended instances from the contract change feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// RetryPolicy bounds retries against the content safety evaluator.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy retries a handful of times with doubling backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 200 * time.Millisecond}
}

// Orchestrator sequences a property approval: contract existence check,
// content safety check, contract approval wait, result publication. Each
// instance is keyed by property id; state lives in the repository, never in
// process memory, so a suspended instance can be resumed by any process.
type Orchestrator struct {
	repo      domain.ApprovalRepository
	store     domain.ContractStatusStore
	evaluator domain.ContentEvaluator
	outbox    domain.Outbox
	validator domain.TransitionValidator
	retry     RetryPolicy
}

// NewOrchestrator creates an orchestrator with the given adapters.
func NewOrchestrator(
	repo domain.ApprovalRepository,
	store domain.ContractStatusStore,
	evaluator domain.ContentEvaluator,
	outbox domain.Outbox,
	validator domain.TransitionValidator,
	retry RetryPolicy,
) *Orchestrator {
	if retry.Attempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Orchestrator{
		repo:      repo,
		store:     store,
		evaluator: evaluator,
		outbox:    outbox,
		validator: validator,
		retry:     retry,
	}
}

// Start runs a new approval instance for the listing. It either completes
// synchronously with a terminal outcome, or suspends in AWAITING_CONTRACT
// with a persisted continuation token and returns.
//
// A request for a property that already reached a terminal state returns
// ErrApprovalTerminal. A request for a suspended instance is an idempotent
// no-op. A request for an instance interrupted before suspending or
// completing re-drives it from the persisted status, so a failed or crashed
// run always makes progress on redelivery.
func (o *Orchestrator) Start(ctx context.Context, snapshot domain.ListingSnapshot) (domain.PropertyApproval, error) {
	propertyID := snapshot.PropertyID
	if !domain.ValidPropertyID(propertyID) {
		return domain.PropertyApproval{}, &domain.InvalidPropertyIDError{ID: propertyID}
	}

	approval, err := o.repo.Get(ctx, propertyID)
	switch {
	case err == nil:
		if approval.Status.Terminal() {
			return approval, domain.ErrApprovalTerminal
		}
		if approval.Status == domain.StatusAwaitingContract {
			slog.WarnContext(ctx, "approval already suspended, ignoring duplicate request",
				"property_id", propertyID,
			)
			return approval, nil
		}
		slog.InfoContext(ctx, "re-driving in-flight approval",
			"property_id", propertyID,
			"status", approval.Status,
		)
	case errors.Is(err, domain.ErrApprovalNotFound):
		approval = domain.NewPropertyApproval(propertyID)
		if err := o.repo.Create(ctx, approval); err != nil {
			return domain.PropertyApproval{}, fmt.Errorf("creating approval instance: %w", err)
		}
	default:
		return domain.PropertyApproval{}, err
	}

	return o.drive(ctx, approval, snapshot)
}

// drive runs the workflow from the instance's current status to either a
// terminal outcome or suspension. It is re-entrant: PENDING instances start
// from the contract existence check, CONTENT_CHECK instances re-run the
// content evaluation.
func (o *Orchestrator) drive(ctx context.Context, approval domain.PropertyApproval, snapshot domain.ListingSnapshot) (domain.PropertyApproval, error) {
	propertyID := approval.PropertyID

	if approval.Status == domain.StatusPending {
		// Contract existence check.
		if _, err := o.store.Get(ctx, propertyID); err != nil {
			if errors.Is(err, domain.ErrContractNotFound) {
				slog.InfoContext(ctx, "no contract for property, declining",
					"property_id", propertyID,
				)
				return o.finish(ctx, approval, domain.EventNoContract, domain.ReasonNoContract)
			}
			return domain.PropertyApproval{}, err
		}

		var err error
		approval, err = o.transition(ctx, approval, domain.EventContractFound)
		if err != nil {
			return domain.PropertyApproval{}, err
		}
	}

	// Content safety check.
	verdict, err := o.evaluateWithRetry(ctx, snapshot)
	if err != nil {
		slog.ErrorContext(ctx, "content evaluation attempts exhausted, declining",
			"property_id", propertyID,
			"error", err,
		)
		return o.finish(ctx, approval, domain.EventEvaluationFailed, domain.ReasonEvaluationUnavailable)
	}
	if !verdict.Passed() {
		slog.InfoContext(ctx, "content check failed, declining",
			"property_id", propertyID,
			"sentiment_passed", verdict.SentimentPassed,
			"images_passed", verdict.ImagesPassed,
		)
		return o.finish(ctx, approval, domain.EventContentRejected, domain.ReasonUnsafeContent)
	}

	// Contract approval branch: re-read so a contract approved during the
	// content check skips the wait.
	record, err := o.store.Get(ctx, propertyID)
	if err != nil {
		return domain.PropertyApproval{}, err
	}
	if record.ContractStatus == domain.ContractApproved {
		return o.finish(ctx, approval, domain.EventContractApproved, "")
	}

	return o.suspend(ctx, approval)
}

// Resume continues a suspended instance with the contract status carried by
// the waking signal. Resume is idempotent: unknown tokens and instances
// already terminal are warning no-ops, because at-least-once delivery makes
// duplicates expected.
func (o *Orchestrator) Resume(ctx context.Context, token string, signal domain.ContractStatus) error {
	approval, err := o.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			slog.WarnContext(ctx, "resume for unknown or already consumed continuation token")
			return nil
		}
		return err
	}

	if approval.Status.Terminal() {
		slog.WarnContext(ctx, "resume for terminal approval, ignoring",
			"property_id", approval.PropertyID,
			"status", approval.Status,
		)
		return nil
	}
	if approval.Status != domain.StatusAwaitingContract {
		slog.WarnContext(ctx, "resume for approval that is not suspended, ignoring",
			"property_id", approval.PropertyID,
			"status", approval.Status,
		)
		return nil
	}

	switch signal {
	case domain.ContractApproved:
		_, err := o.finish(ctx, approval, domain.EventContractApproved, "")
		return err

	case domain.ContractDraft:
		// Spurious wake: the contract mutated but is not approved yet.
		// Put the token back and stay suspended.
		slog.InfoContext(ctx, "contract still draft, staying suspended",
			"property_id", approval.PropertyID,
		)
		return o.reattach(ctx, approval)

	default:
		// Fail safe: never auto-decline on an ambiguous signal. Restore the
		// wait so a later well-formed signal can still resume the instance.
		slog.ErrorContext(ctx, "unknown resume signal, staying suspended",
			"property_id", approval.PropertyID,
			"signal", string(signal),
		)
		if err := o.reattach(ctx, approval); err != nil {
			return err
		}
		return &domain.UnknownSignalError{Signal: signal}
	}
}

// Status returns the evaluation status for synchronous inspection.
func (o *Orchestrator) Status(ctx context.Context, propertyID string) (domain.PropertyApproval, error) {
	return o.repo.Get(ctx, propertyID)
}

// transition applies an event and persists the new state.
func (o *Orchestrator) transition(ctx context.Context, approval domain.PropertyApproval, event domain.Event) (domain.PropertyApproval, error) {
	next, err := o.validator.Apply(ctx, approval.Status, event)
	if err != nil {
		return domain.PropertyApproval{}, err
	}

	approval.Status = next
	if err := o.repo.Update(ctx, approval); err != nil {
		return domain.PropertyApproval{}, fmt.Errorf("persisting %q transition: %w", event, err)
	}
	return approval, nil
}

// finish moves the instance to a terminal state and stages the outcome
// event. The outbox commits both in one transaction: a failure here leaves
// the instance non-terminal and the triggering delivery retries, a success
// means the completion event is already durable.
func (o *Orchestrator) finish(ctx context.Context, approval domain.PropertyApproval, event domain.Event, reason domain.DeclineReason) (domain.PropertyApproval, error) {
	next, err := o.validator.Apply(ctx, approval.Status, event)
	if err != nil {
		return domain.PropertyApproval{}, err
	}

	approval.Status = next
	approval.Reason = reason
	approval.ContinuationToken = ""
	if err := o.outbox.Finalize(ctx, approval); err != nil {
		return domain.PropertyApproval{}, fmt.Errorf("finalizing approval: %w", err)
	}

	slog.InfoContext(ctx, "approval completed",
		"property_id", approval.PropertyID,
		"result", approval.Status,
		"reason", string(reason),
	)
	return approval, nil
}

// suspend persists the instance in AWAITING_CONTRACT with a fresh
// continuation token and returns without holding any resource. The instance
// is inert until the dispatcher claims the token and calls Resume.
func (o *Orchestrator) suspend(ctx context.Context, approval domain.PropertyApproval) (domain.PropertyApproval, error) {
	token, err := newContinuationToken()
	if err != nil {
		return domain.PropertyApproval{}, fmt.Errorf("generating continuation token: %w", err)
	}

	next, err := o.validator.Apply(ctx, approval.Status, domain.EventContractPending)
	if err != nil {
		return domain.PropertyApproval{}, err
	}

	approval.Status = next
	approval.ContinuationToken = token
	if err := o.repo.Update(ctx, approval); err != nil {
		return domain.PropertyApproval{}, fmt.Errorf("persisting suspended state: %w", err)
	}

	attached, err := o.store.AttachContinuation(ctx, approval.PropertyID, token)
	if err != nil {
		return domain.PropertyApproval{}, fmt.Errorf("attaching continuation: %w", err)
	}
	if !attached {
		slog.WarnContext(ctx, "continuation already attached for property",
			"property_id", approval.PropertyID,
		)
	}

	slog.InfoContext(ctx, "approval suspended awaiting contract",
		"property_id", approval.PropertyID,
	)
	return approval, nil
}

// reattach restores the continuation after a wake that did not complete the
// instance. The approval row keeps its token; only the store-side attachment
// was consumed by the dispatcher.
func (o *Orchestrator) reattach(ctx context.Context, approval domain.PropertyApproval) error {
	attached, err := o.store.AttachContinuation(ctx, approval.PropertyID, approval.ContinuationToken)
	if err != nil {
		return fmt.Errorf("re-attaching continuation: %w", err)
	}
	if !attached {
		slog.WarnContext(ctx, "continuation already attached on re-attach",
			"property_id", approval.PropertyID,
		)
	}
	return nil
}

// evaluateWithRetry calls the content evaluator with bounded exponential
// backoff. Transient evaluator failures are absorbed here; only exhaustion
// surfaces to the caller.
func (o *Orchestrator) evaluateWithRetry(ctx context.Context, snapshot domain.ListingSnapshot) (domain.ContentVerdict, error) {
	delay := o.retry.Backoff
	var lastErr error

	for attempt := 1; attempt <= o.retry.Attempts; attempt++ {
		verdict, err := o.evaluator.Evaluate(ctx, snapshot)
		if err == nil {
			return verdict, nil
		}
		lastErr = err

		slog.WarnContext(ctx, "content evaluation attempt failed",
			"property_id", snapshot.PropertyID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == o.retry.Attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.ContentVerdict{}, ctx.Err()
		}
		delay *= 2
	}

	return domain.ContentVerdict{}, lastErr
}
