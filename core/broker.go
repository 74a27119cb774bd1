package core

import "context"

// MessageType discriminates the three shapes of envelope on the wire.
type MessageType string

const (
	MessageTypeEvent          MessageType = "event"
	MessageTypeCommandRequest MessageType = "command-request"
	MessageTypeCommandReply   MessageType = "command-reply"
)

// Envelope is the broker-agnostic unit carried by every publish and
// delivery. ReplyTo and CorrelationID are only populated for commands;
// Success is only meaningful on a command-reply.
type Envelope struct {
	RoutingKey    string
	Body          []byte
	CorrelationID string
	ReplyTo       string
	Type          MessageType
	Success       bool
}

// Delivery is an inbound Envelope paired with the broker-specific
// acknowledgement hooks. Broker adapters construct Deliveries and hand them
// to a Handler; the adapter then calls Ack or Nack exactly once, based on
// the Handler's return value.
type Delivery interface {
	Envelope() Envelope
	Ack() error
	Nack() error
}

// Handler is invoked by a Broker for each delivery on a subscribed queue.
// Returning a non-nil error causes the adapter to Nack without requeue;
// returning nil causes Ack.
type Handler func(ctx context.Context, d Delivery) error

// Middleware wraps a Handler to add cross-cutting behavior such as logging,
// metrics, or panic recovery.
type Middleware func(Handler) Handler

// Broker is the contract every transport plugin implements. Unavailable/
// InvalidArgument policy and ack/nack semantics are the adapter's
// responsibility; dispatchers only see this interface.
type Broker interface {
	// Connect reports whether the broker can be used. Idempotent within one
	// lifecycle. The adapters in this module dial in their constructors
	// (wrapping a dial failure in ErrBrokerUnavailable), so their Connect
	// performs no I/O and only returns ErrBrokerClosed after Close.
	Connect(ctx context.Context) error

	// DeclareQueue creates a durable queue if absent. Failures are fatal to
	// startup.
	DeclareQueue(ctx context.Context, name string) error

	// Bind binds queue to the topic exchange with pattern. Multiple binds to
	// the same queue accumulate. Rejects empty/malformed queue or pattern
	// with *InvalidArgument.
	Bind(ctx context.Context, queue, pattern string) error

	// Consume begins delivery on queue; handler runs for each delivery until
	// ctx is cancelled or the subscription is torn down.
	Consume(ctx context.Context, queue string, handler Handler) error

	// Publish sends env to the exchange under env.RoutingKey. Rejects a nil
	// Body with *InvalidArgument. Does not wait for a broker confirm.
	Publish(ctx context.Context, env Envelope) error

	// Close tears down the connection and any open channels/consumers.
	Close() error
}
