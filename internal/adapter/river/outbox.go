// Package river carries the asynchronous legs of the approval workflow on a
// durable job queue: ingestion of inbound events and delivery of terminal
// outcomes. The job table doubles as a transactional outbox.
package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/propgate/internal/domain"
)

// Compile-time check: Outbox implements domain.Outbox.
var _ domain.Outbox = (*Outbox)(nil)

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// EvaluationCompletedArgs carries a terminal approval outcome to the bus
// delivery worker. River serializes this as JSON into its job table, which
// acts as the outbox: the outcome is durable the moment the terminal
// transition commits, and delivery retries ride River's backoff.
type EvaluationCompletedArgs struct {
	PropertyID string `json:"property_id"`
	Result     string `json:"evaluation_result"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EvaluationCompletedArgs) Kind() string { return "publication.completed" }

// TerminalWriter persists a terminal approval inside a caller-owned
// transaction. Satisfied by the SQLite approval repository.
type TerminalWriter interface {
	UpdateTx(ctx context.Context, tx *sql.Tx, approval domain.PropertyApproval) error
}

// Outbox implements domain.Outbox on the job table. The terminal row update
// and the completion job insert share one transaction: a committed terminal
// state always has its announcement staged, and a failed insert rolls the
// row back so the next delivery of the triggering event retries the whole
// finalization. An insert-only client is enough; the delivery worker runs
// on the worker client.
type Outbox struct {
	db     *sql.DB
	client *Client
	repo   TerminalWriter
}

// NewOutbox creates an outbox over the shared database and River client.
func NewOutbox(db *sql.DB, client *Client, repo TerminalWriter) *Outbox {
	return &Outbox{db: db, client: client, repo: repo}
}

// Finalize commits the terminal approval row and its completion job
// atomically.
func (o *Outbox) Finalize(ctx context.Context, approval domain.PropertyApproval) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning outbox tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := o.repo.UpdateTx(ctx, tx, approval); err != nil {
		return fmt.Errorf("persisting terminal state: %w", err)
	}

	if _, err := o.client.InsertTx(ctx, tx, EvaluationCompletedArgs{
		PropertyID: approval.PropertyID,
		Result:     string(approval.Status),
	}, nil); err != nil {
		return fmt.Errorf("enqueuing evaluation result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing outbox tx: %w", err)
	}
	return nil
}
