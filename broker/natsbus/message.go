package natsbus

import (
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pelorus-dev/pelorus/core"
)

// delivery adapts a JetStream message to core.Delivery.
type delivery struct {
	msg jetstream.Msg
}

func (d *delivery) Envelope() core.Envelope {
	h := d.msg.Headers()
	env := core.Envelope{
		RoutingKey: d.msg.Subject(),
		Body:       d.msg.Data(),
		Type:       core.MessageType(first(h, "type")),
	}
	env.CorrelationID = first(h, "correlation-id")
	env.ReplyTo = first(h, "reply-to")
	env.Success = first(h, "success") == "true"
	return env
}

func first(h map[string][]string, key string) string {
	if v, ok := h[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func (d *delivery) Ack() error {
	if err := d.msg.Ack(); err != nil {
		return fmt.Errorf("pelorus/natsbus: ack: %w", err)
	}
	return nil
}

// Nack terminates the message so JetStream does not redeliver it.
func (d *delivery) Nack() error {
	if err := d.msg.Term(); err != nil {
		return fmt.Errorf("pelorus/natsbus: nack: %w", err)
	}
	return nil
}
