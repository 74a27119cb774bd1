// Package mock provides in-memory test doubles for core.Broker and
// core.Delivery.
package mock

import "github.com/pelorus-dev/pelorus/core"

// Delivery is a core.Delivery test double.
type Delivery struct {
	Env     core.Envelope
	Acked   bool
	Nacked  bool
	AckErr  error
	NackErr error
}

// NewDelivery wraps env in a Delivery ready to hand to a Handler.
func NewDelivery(env core.Envelope) *Delivery {
	return &Delivery{Env: env}
}

func (d *Delivery) Envelope() core.Envelope { return d.Env }

func (d *Delivery) Ack() error {
	d.Acked = true
	return d.AckErr
}

func (d *Delivery) Nack() error {
	d.Nacked = true
	return d.NackErr
}
