package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
	"github.com/pelorus-dev/pelorus/registry"
)

var eventLog = xlog.For("event-dispatcher")

// EventDispatcher subscribes every event queue in a registry.Registry to its
// broker and fans out each delivery to every matching handler.
type EventDispatcher struct {
	reg    *registry.Registry
	broker core.Broker
	opts   options
}

// NewEventDispatcher builds a dispatcher for the event queues held by reg.
func NewEventDispatcher(reg *registry.Registry, broker core.Broker, opts ...Option) *EventDispatcher {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &EventDispatcher{reg: reg, broker: broker, opts: o}
}

// Subscribe declares and binds every event queue, then starts consuming.
// It blocks until ctx is cancelled or a subscription attempt fails.
func (d *EventDispatcher) Subscribe(ctx context.Context) error {
	if d.broker == nil {
		return core.ErrNoBroker
	}

	var queues []string
	for _, q := range d.reg.Queues() {
		if kind, ok := d.reg.Kind(q); ok && kind == registry.KindEvent {
			queues = append(queues, q)
		}
	}

	for _, q := range queues {
		if err := d.broker.DeclareQueue(ctx, q); err != nil {
			return fmt.Errorf("pelorus: declare queue %q: %w", q, err)
		}
		for _, pattern := range d.reg.Patterns(q) {
			if err := d.broker.Bind(ctx, q, pattern); err != nil {
				return fmt.Errorf("pelorus: bind %q to %q: %w", q, pattern, err)
			}
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(queues))

	for _, q := range queues {
		wrapped := applyMiddleware(d.handler(q), d.opts.middlewares)
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := d.broker.Consume(ctx, queue, wrapped); err != nil {
				errCh <- fmt.Errorf("pelorus: consume %q: %w", queue, err)
			}
		}(q)
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}

// handler builds the core.Handler for queue: it matches the delivery's
// routing key against every registered pattern, decodes and invokes each
// match concurrently, and acks unless the broker itself failed — a handler
// panic, decode error, or handler-returned error is logged, not nacked.
func (d *EventDispatcher) handler(queue string) core.Handler {
	descriptors := d.reg.Events(queue)

	return func(ctx context.Context, delivery core.Delivery) error {
		env := delivery.Envelope()

		var matched []registry.EventDescriptor
		for _, desc := range descriptors {
			if d.opts.matcher.Match(desc.Pattern, env.RoutingKey) {
				matched = append(matched, desc)
			}
		}

		if len(matched) == 0 {
			eventLog.Debug().Str("queue", queue).Str("routing_key", env.RoutingKey).
				Msg("no handler matched delivery")
			return nil
		}

		var wg sync.WaitGroup
		for _, desc := range matched {
			desc := desc
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						eventLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
							Interface("panic", r).Msg("event handler panicked")
					}
				}()
				param := desc.New()
				if err := d.opts.codec.Decode(env.Body, param); err != nil {
					eventLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
						Err(err).Msg("failed to decode event payload")
					return
				}
				if err := desc.Invoke(ctx, param); err != nil {
					eventLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
						Err(err).Msg("event handler returned error")
				}
			}()
		}
		wg.Wait()
		return nil
	}
}
