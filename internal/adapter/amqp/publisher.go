package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/neomorfeo/propgate/internal/event"
)

// Publisher delivers completed-evaluation envelopes to the topic exchange.
// The routing key is the detail type, so downstream domains subscribe to
// exactly the event shapes they consume.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a publisher over the connected bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Deliver publishes the envelope as a persistent message.
func (p *Publisher) Deliver(ctx context.Context, env event.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	err = p.bus.ch.PublishWithContext(ctx, Exchange, env.DetailType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.Time,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", env.DetailType, err)
	}
	return nil
}
