package domain

import "context"

// ApprovalRepository defines the persistence contract for approval instances.
// Update must refuse to mutate a row that is already terminal.
type ApprovalRepository interface {
	Create(ctx context.Context, approval PropertyApproval) error
	Get(ctx context.Context, propertyID string) (PropertyApproval, error)
	GetByToken(ctx context.Context, token string) (PropertyApproval, error)
	Update(ctx context.Context, approval PropertyApproval) error
}

// ContractStatusStore is the shared mutable resource between the contracts
// domain (writer) and the approval orchestrator (reader, and writer of the
// continuation field). All mutations are atomic conditional updates, never
// read-then-write.
type ContractStatusStore interface {
	// Upsert applies last-write-wins by LastModifiedOn. It returns
	// applied=false and leaves state unchanged when the incoming record is
	// stale or a duplicate.
	Upsert(ctx context.Context, record ContractStatusRecord) (applied bool, err error)
	Get(ctx context.Context, propertyID string) (ContractStatusRecord, error)
	// AttachContinuation returns false when a continuation is already
	// attached and unconsumed. Exactly one outstanding wait per property.
	AttachContinuation(ctx context.Context, propertyID, token string) (bool, error)
	// ConsumeContinuation atomically claims and clears the attached token.
	// Returns "" when no token is attached.
	ConsumeContinuation(ctx context.Context, propertyID string) (string, error)
}

// ChangeFeed exposes the ordered, durable log of contract status mutations,
// plus per-consumer cursors for resumable consumption.
type ChangeFeed interface {
	ReadAfter(ctx context.Context, seq int64, limit int) ([]Change, error)
	Cursor(ctx context.Context, consumer string) (int64, error)
	SaveCursor(ctx context.Context, consumer string, seq int64) error
}

// DeadLetters records messages that failed processing.
type DeadLetters interface {
	Add(ctx context.Context, letter DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}

// ContentEvaluator scores listing content. Implementations are external
// capability providers; errors are transient and retryable.
type ContentEvaluator interface {
	Evaluate(ctx context.Context, snapshot ListingSnapshot) (ContentVerdict, error)
}

// Outbox records a terminal approval outcome. Finalize must persist the
// terminal row and stage the PublicationEvaluationCompleted event in one
// atomic step: a stored terminal state without its announcement, or the
// reverse, must be impossible.
type Outbox interface {
	Finalize(ctx context.Context, approval PropertyApproval) error
}

// TransitionValidator checks and applies approval state transitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current EvaluationStatus, event Event) (EvaluationStatus, error)
}
