// Package pelorus wires the Handler Registry, Event Dispatcher, Command
// Dispatcher, and RPC Client into a single entry point. A typical
// application looks like:
//
//	b := pelorus.New(broker)
//	registry.RegisterEvent(b.Registry(), "Orders", "order.*", handleOrder)
//	registry.RegisterCommand(b.Registry(), "Pricing", "price.quote", quote)
//	go b.Start(ctx)
//	reply, err := pelorus.Call[QuoteRequest, QuoteReply](ctx, b, "price.quote", req, 0)
package pelorus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/dispatch"
	"github.com/pelorus-dev/pelorus/registry"
	"github.com/pelorus-dev/pelorus/rpc"
)

// Re-export the core types applications most commonly reference, so callers
// rarely need to import core directly.
type (
	Broker     = core.Broker
	Envelope   = core.Envelope
	Delivery   = core.Delivery
	Handler    = core.Handler
	Middleware = core.Middleware
	Codec      = core.Codec
	Matcher    = core.Matcher
)

// Bus owns one Broker, the Handler Registry built against it, and the
// dispatchers/client that read from it.
type Bus struct {
	broker   core.Broker
	registry *registry.Registry
	client   *rpc.Client
	opts     []dispatch.Option
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithMiddleware applies mw to both the event and command dispatchers.
func WithMiddleware(mw ...core.Middleware) Option {
	return func(b *Bus) { b.opts = append(b.opts, dispatch.WithMiddleware(mw...)) }
}

// WithCodec overrides the default JSONCodec for dispatch and the RPC client.
func WithCodec(c core.Codec) Option {
	return func(b *Bus) {
		b.opts = append(b.opts, dispatch.WithCodec(c))
		rpc.WithCodec(c)(b.client)
	}
}

// WithMatcher overrides the default DefaultMatcher for dispatch.
func WithMatcher(m core.Matcher) Option {
	return func(b *Bus) { b.opts = append(b.opts, dispatch.WithMatcher(m)) }
}

// WithRPCTimeout overrides the RPC client's fallback timeout.
func WithRPCTimeout(d time.Duration) Option {
	return func(b *Bus) { rpc.WithDefaultTimeout(d)(b.client) }
}

// New builds a Bus over broker.
func New(broker core.Broker, opts ...Option) *Bus {
	b := &Bus{broker: broker, registry: registry.New()}
	b.client = rpc.NewClient(broker)
	for _, fn := range opts {
		fn(b)
	}
	return b
}

// Registry returns the Handler Registry handlers are registered against
// before Start is called.
func (b *Bus) Registry() *registry.Registry { return b.registry }

// Start subscribes the event and command dispatchers and blocks until ctx
// is cancelled or either fails.
func (b *Bus) Start(ctx context.Context) error {
	events := dispatch.NewEventDispatcher(b.registry, b.broker, b.opts...)
	commands := dispatch.NewCommandDispatcher(b.registry, b.broker, b.opts...)

	if err := b.client.Start(ctx); err != nil {
		return fmt.Errorf("pelorus: start rpc client: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := events.Subscribe(ctx); err != nil {
			errCh <- fmt.Errorf("pelorus: event dispatcher: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := commands.Subscribe(ctx); err != nil {
			errCh <- fmt.Errorf("pelorus: command dispatcher: %w", err)
		}
	}()

	go func() {
		wg.Wait()
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return b.broker.Close()
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		<-ctx.Done()
		return b.broker.Close()
	}
}

// Call issues a command request through bus's RPC client and blocks for the
// correlated reply.
func Call[Req, Resp any](ctx context.Context, b *Bus, routingKey string, req Req, timeout time.Duration) (Resp, error) {
	return rpc.Call[Req, Resp](ctx, b.client, routingKey, req, timeout)
}
