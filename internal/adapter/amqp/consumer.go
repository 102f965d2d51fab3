package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	goriver "github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	riveradapter "github.com/neomorfeo/propgate/internal/adapter/river"
	"github.com/neomorfeo/propgate/internal/domain"
	"github.com/neomorfeo/propgate/internal/event"
)

// JobInserter enqueues durable jobs. Satisfied by the River client.
type JobInserter interface {
	Insert(ctx context.Context, args goriver.JobArgs, opts *goriver.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Consumer drains the inbound queues and hands each well-formed envelope to
// the durable job queue. The broker delivery is acked only after the job
// insert commits, so a crash in between redelivers rather than loses.
type Consumer struct {
	bus     *Bus
	jobs    JobInserter
	letters domain.DeadLetters
}

// NewConsumer creates a consumer over the connected bus.
func NewConsumer(bus *Bus, jobs JobInserter, letters domain.DeadLetters) *Consumer {
	return &Consumer{bus: bus, jobs: jobs, letters: letters}
}

// Run consumes both inbound queues until the context is canceled. A delivery
// channel closed by the broker is fatal: Run returns an error so the process
// exits and gets restarted, instead of idling forever on a dead queue.
func (c *Consumer) Run(ctx context.Context) error {
	failed := make(chan error, 2)
	for _, queue := range []string{ApprovalRequestedQueue, ContractStatusQueue} {
		deliveries, err := c.bus.ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consuming %s: %w", queue, err)
		}
		go func(queue string, deliveries <-chan amqp.Delivery) {
			failed <- c.drain(ctx, queue, deliveries)
		}(queue, deliveries)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}

// drain processes a queue until the context is canceled. A closed delivery
// channel means the broker connection went away.
func (c *Consumer) drain(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) error {
	slog.InfoContext(ctx, "consuming queue", "queue", queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for %s", queue)
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	err := c.process(ctx, d.Body)

	var validationErr *event.ValidationError
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			slog.ErrorContext(ctx, "acking delivery", "error", ackErr)
		}
	case errors.As(err, &validationErr):
		// Reject without requeue routes the delivery to the broker's
		// dead-letter exchange; the local record keeps the evidence.
		slog.ErrorContext(ctx, "rejecting malformed delivery", "error", err)
		if addErr := c.letters.Add(ctx, domain.DeadLetter{
			Source:  "amqp",
			Reason:  err.Error(),
			Payload: d.Body,
		}); addErr != nil {
			slog.ErrorContext(ctx, "recording dead letter", "error", addErr)
		}
		if nackErr := d.Nack(false, false); nackErr != nil {
			slog.ErrorContext(ctx, "nacking delivery", "error", nackErr)
		}
	default:
		// Transient failure, requeue for another attempt.
		slog.WarnContext(ctx, "requeueing delivery", "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			slog.ErrorContext(ctx, "nacking delivery", "error", nackErr)
		}
	}
}

// process validates the envelope metadata and routes it to the matching
// ingestion job. Schema validation of the detail payload happens in the
// worker; the bus edge only judges what it needs for routing.
func (c *Consumer) process(ctx context.Context, body []byte) error {
	env, err := event.Parse(body)
	if err != nil {
		return err
	}

	switch env.DetailType {
	case event.TypeApprovalRequested:
		_, err := c.jobs.Insert(ctx, riveradapter.ApprovalRequestedArgs{Envelope: body}, nil)
		if err != nil {
			return fmt.Errorf("enqueuing approval request: %w", err)
		}
	case event.TypeContractStatusChanged:
		_, err := c.jobs.Insert(ctx, riveradapter.ContractStatusChangedArgs{Envelope: body}, nil)
		if err != nil {
			return fmt.Errorf("enqueuing contract status change: %w", err)
		}
	default:
		return &event.ValidationError{
			DetailType: env.DetailType,
			Reason:     "no route for detail type",
		}
	}
	return nil
}
