package mock

import (
	"context"
	"sync"

	"github.com/pelorus-dev/pelorus/core"
)

// Broker is an in-memory core.Broker test double. It records declared
// queues, bound patterns, and published envelopes, and lets tests simulate
// an inbound delivery via Deliver.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]bool
	binds     map[string][]string
	handlers  map[string]core.Handler
	published []core.Envelope
	closed    bool

	// DeclareErr / BindErr / ConsumeErr / PublishErr, when set, make the
	// corresponding method fail — used to exercise error paths.
	DeclareErr error
	BindErr    error
	ConsumeErr error
	PublishErr error
}

func NewBroker() *Broker {
	return &Broker{
		queues:   make(map[string]bool),
		binds:    make(map[string][]string),
		handlers: make(map[string]core.Handler),
	}
}

func (b *Broker) Connect(ctx context.Context) error { return nil }

func (b *Broker) DeclareQueue(ctx context.Context, name string) error {
	if b.DeclareErr != nil {
		return b.DeclareErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[name] = true
	return nil
}

func (b *Broker) Bind(ctx context.Context, queue, pattern string) error {
	if b.BindErr != nil {
		return b.BindErr
	}
	if queue == "" {
		return core.NewInvalidArgument("queue", "must not be empty")
	}
	if !core.ValidPattern(pattern) {
		return core.NewInvalidArgument("pattern", "malformed")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds[queue] = append(b.binds[queue], pattern)
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue string, handler core.Handler) error {
	if b.ConsumeErr != nil {
		return b.ConsumeErr
	}
	b.mu.Lock()
	b.handlers[queue] = handler
	b.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (b *Broker) Publish(ctx context.Context, env core.Envelope) error {
	if b.PublishErr != nil {
		return b.PublishErr
	}
	if env.Body == nil {
		return core.NewInvalidArgument("body", "must not be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Deliver simulates an inbound delivery of env to queue's registered
// handler. It returns core.ErrNoBroker if no consumer is registered yet.
func (b *Broker) Deliver(ctx context.Context, queue string, env core.Envelope) error {
	b.mu.Lock()
	h, ok := b.handlers[queue]
	b.mu.Unlock()
	if !ok {
		return core.ErrNoBroker
	}
	return h(ctx, NewDelivery(env))
}

// Published returns all envelopes sent via Publish.
func (b *Broker) Published() []core.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Envelope, len(b.published))
	copy(out, b.published)
	return out
}

// Bindings returns the patterns bound to queue.
func (b *Broker) Bindings(queue string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.binds[queue]...)
}

// IsClosed reports whether Close was called.
func (b *Broker) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
