package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/propgate/internal/domain"
)

// consumerName keys the dispatcher's durable cursor in the change feed.
const consumerName = "approval-dispatcher"

// Resumer continues a suspended approval instance. Satisfied by Orchestrator.
type Resumer interface {
	Resume(ctx context.Context, token string, signal domain.ContractStatus) error
}

// Dispatcher polls the contract change feed and resumes approval instances
// whose awaited contract reached APPROVED. The cursor advances only after a
// change is fully handled, so a crash mid-batch replays from the last handled
// change; Resume's idempotency absorbs the duplicates.
type Dispatcher struct {
	feed     domain.ChangeFeed
	store    domain.ContractStatusStore
	resumer  Resumer
	interval time.Duration
	batch    int
}

// NewDispatcher creates a dispatcher polling at the given interval.
func NewDispatcher(feed domain.ChangeFeed, store domain.ContractStatusStore, resumer Resumer, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		feed:     feed,
		store:    store,
		resumer:  resumer,
		interval: interval,
		batch:    100,
	}
}

// Run polls until the context is canceled. Batch errors are logged and
// retried on the next tick; the durable cursor makes retries safe.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "change dispatcher started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "change dispatcher stopped")
			return
		case <-ticker.C:
			if n, err := d.Dispatch(ctx); err != nil {
				slog.ErrorContext(ctx, "dispatch batch failed", "error", err)
			} else if n > 0 {
				slog.DebugContext(ctx, "dispatched contract changes", "count", n)
			}
		}
	}
}

// Dispatch processes one batch of changes after the durable cursor and
// returns how many it handled. Changes without a continuation token, and
// changes whose contract is not APPROVED, advance the cursor without waking
// anything; the attachment stays in place for a later approval.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	cursor, err := d.feed.Cursor(ctx, consumerName)
	if err != nil {
		return 0, fmt.Errorf("loading change cursor: %w", err)
	}

	changes, err := d.feed.ReadAfter(ctx, cursor, d.batch)
	if err != nil {
		return 0, fmt.Errorf("reading change feed: %w", err)
	}

	handled := 0
	for _, change := range changes {
		if err := d.handle(ctx, change); err != nil {
			return handled, err
		}
		if err := d.feed.SaveCursor(ctx, consumerName, change.Seq); err != nil {
			return handled, fmt.Errorf("saving change cursor: %w", err)
		}
		handled++
	}
	return handled, nil
}

func (d *Dispatcher) handle(ctx context.Context, change domain.Change) error {
	if change.ContinuationToken == "" || change.ContractStatus != domain.ContractApproved {
		return nil
	}

	// Claim before resuming: the conditional consume guarantees at most one
	// dispatch per attached token, even with concurrent dispatchers.
	token, err := d.store.ConsumeContinuation(ctx, change.PropertyID)
	if err != nil {
		return fmt.Errorf("consuming continuation for %s: %w", change.PropertyID, err)
	}
	if token == "" {
		slog.DebugContext(ctx, "continuation already consumed, skipping",
			"property_id", change.PropertyID,
			"seq", change.Seq,
		)
		return nil
	}

	if err := d.resumer.Resume(ctx, token, change.ContractStatus); err != nil {
		// Put the claim back so the next tick can retry the wake.
		if _, attachErr := d.store.AttachContinuation(ctx, change.PropertyID, token); attachErr != nil {
			slog.ErrorContext(ctx, "re-attaching continuation after failed resume",
				"property_id", change.PropertyID,
				"error", attachErr,
			)
		}
		return fmt.Errorf("resuming approval for %s: %w", change.PropertyID, err)
	}
	return nil
}
