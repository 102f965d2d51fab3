// Package amqp connects the approval workflow to the external event bus.
// Inbound deliveries are validated and enqueued as durable jobs; outbound
// terminal outcomes are published to a topic exchange.
package amqp

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/neomorfeo/propgate/internal/event"
)

// Topology names. Malformed deliveries are rejected without requeue, which
// routes them to the broker's dead-letter exchange.
const (
	Exchange           = "propgate.events"
	DeadLetterExchange = "propgate.events.dlx"

	ApprovalRequestedQueue = "propgate.approval-requested"
	ContractStatusQueue    = "propgate.contract-status"
)

// Bus owns the broker connection and channel and declares the topology.
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials the broker and declares exchanges and queues. Declarations
// are idempotent; any connected service can run them.
func Connect(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	bus := &Bus{conn: conn, ch: ch}
	if err := bus.declareTopology(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) declareTopology() error {
	if err := b.ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange: %w", err)
	}
	if err := b.ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring dead-letter exchange: %w", err)
	}

	queues := map[string]string{
		ApprovalRequestedQueue: event.TypeApprovalRequested,
		ContractStatusQueue:    event.TypeContractStatusChanged,
	}
	for queue, routingKey := range queues {
		_, err := b.ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DeadLetterExchange,
		})
		if err != nil {
			return fmt.Errorf("declaring queue %s: %w", queue, err)
		}
		if err := b.ch.QueueBind(queue, routingKey, Exchange, false, nil); err != nil {
			return fmt.Errorf("binding queue %s: %w", queue, err)
		}
	}
	return nil
}

// Close tears down the channel and connection.
func (b *Bus) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
