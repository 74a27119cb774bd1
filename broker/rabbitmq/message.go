package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pelorus-dev/pelorus/core"
)

// delivery adapts an amqp.Delivery to core.Delivery.
type delivery struct {
	d       amqp.Delivery
	requeue bool
}

func (m *delivery) Envelope() core.Envelope {
	env := core.Envelope{
		RoutingKey:    m.d.RoutingKey,
		Body:          m.d.Body,
		CorrelationID: m.d.CorrelationId,
		ReplyTo:       m.d.ReplyTo,
		Type:          core.MessageType(m.d.Type),
	}
	if v, ok := m.d.Headers["success"].(bool); ok {
		env.Success = v
	}
	return env
}

func (m *delivery) Ack() error {
	if err := m.d.Ack(false); err != nil {
		return fmt.Errorf("pelorus/rabbitmq: ack: %w", err)
	}
	return nil
}

func (m *delivery) Nack() error {
	if err := m.d.Nack(false, m.requeue); err != nil {
		return fmt.Errorf("pelorus/rabbitmq: nack: %w", err)
	}
	return nil
}
