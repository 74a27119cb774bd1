package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
	"github.com/pelorus-dev/pelorus/registry"
)

var commandLog = xlog.For("command-dispatcher")

// CommandDispatcher subscribes every command queue in a registry.Registry to
// its broker, routes each request to exactly one descriptor by literal
// routing key, and publishes a correlated reply.
type CommandDispatcher struct {
	reg    *registry.Registry
	broker core.Broker
	opts   options
}

// NewCommandDispatcher builds a dispatcher for the command queues held by reg.
func NewCommandDispatcher(reg *registry.Registry, broker core.Broker, opts ...Option) *CommandDispatcher {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &CommandDispatcher{reg: reg, broker: broker, opts: o}
}

// Subscribe declares and binds every command queue's literal routing keys,
// then starts consuming. It blocks until ctx is cancelled or a subscription
// attempt fails.
func (d *CommandDispatcher) Subscribe(ctx context.Context) error {
	if d.broker == nil {
		return core.ErrNoBroker
	}

	var queues []string
	for _, q := range d.reg.Queues() {
		if kind, ok := d.reg.Kind(q); ok && kind == registry.KindCommand {
			queues = append(queues, q)
		}
	}

	for _, q := range queues {
		if err := d.broker.DeclareQueue(ctx, q); err != nil {
			return fmt.Errorf("pelorus: declare queue %q: %w", q, err)
		}
		for _, key := range d.reg.Patterns(q) {
			if err := d.broker.Bind(ctx, q, key); err != nil {
				return fmt.Errorf("pelorus: bind %q to %q: %w", q, key, err)
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

// handler builds the core.Handler for a command queue: it finds the single
// descriptor whose routing key matches exactly, decodes the request, invokes
// it, and always publishes a reply (success or RemoteDescription) to
// env.ReplyTo keyed by env.CorrelationID. The request is acked once the
// reply has been handed to the broker for publication, regardless of
// success — only a failure to publish the reply itself propagates as a
// nack-causing error.
func (d *CommandDispatcher) handler(queue string) core.Handler {
	descriptors := d.reg.Commands(queue)
	byKey := make(map[string]registry.CommandDescriptor, len(descriptors))
	for _, desc := range descriptors {
		byKey[desc.RoutingKey] = desc
	}

	return func(ctx context.Context, delivery core.Delivery) error {
		env := delivery.Envelope()

		if env.Type != core.MessageTypeCommandRequest || env.CorrelationID == "" {
			if env.ReplyTo == "" {
				commandLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
					Msg("malformed command request with no reply_to; dropping")
				return nil
			}
			commandLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
				Msg("malformed command request")
			return d.reply(ctx, env, nil, &core.RemoteDescription{
				Kind:    "MalformedCommand",
				Message: "command request missing correlation_id or wrong message type",
			})
		}
		if env.ReplyTo == "" {
			commandLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
				Msg("malformed command request with no reply_to; dropping")
			return nil
		}

		desc, ok := byKey[env.RoutingKey]
		if !ok {
			commandLog.Warn().Str("queue", queue).Str("routing_key", env.RoutingKey).
				Msg("no command registered for routing key")
			return d.reply(ctx, env, nil, &core.RemoteDescription{
				Kind:    "UnknownCommand",
				Message: fmt.Sprintf("no command registered for routing key %q", env.RoutingKey),
			})
		}

		param := desc.New()
		if err := d.opts.codec.Decode(env.Body, param); err != nil {
			commandLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
				Err(err).Msg("failed to decode command payload")
			return d.reply(ctx, env, nil, &core.RemoteDescription{
				Kind:    "BadPayload",
				Message: err.Error(),
			})
		}

		result, err := func() (res any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("pelorus: command handler panicked: %v", r)
				}
			}()
			return desc.Invoke(ctx, param)
		}()
		if err != nil {
			commandLog.Error().Str("queue", queue).Str("routing_key", env.RoutingKey).
				Err(err).Msg("command handler returned error")
			return d.reply(ctx, env, nil, remoteDescriptionFor(err))
		}
		return d.reply(ctx, env, result, nil)
	}
}

// reply encodes and publishes a command-reply envelope. A publish failure is
// the one case that propagates to the caller as a transport-level error.
func (d *CommandDispatcher) reply(ctx context.Context, req core.Envelope, result any, remoteErr *core.RemoteDescription) error {
	var body []byte
	var err error
	success := remoteErr == nil

	if success {
		body, err = d.opts.codec.Encode(result)
	} else {
		body, err = d.opts.codec.Encode(remoteErr)
	}
	if err != nil {
		commandLog.Error().Str("routing_key", req.RoutingKey).Err(err).Msg("failed to encode command reply")
		success = false
		body, _ = d.opts.codec.Encode(&core.RemoteDescription{Kind: "EncodeError", Message: err.Error()})
	}

	out := core.Envelope{
		RoutingKey:    req.ReplyTo,
		Body:          body,
		CorrelationID: req.CorrelationID,
		Type:          core.MessageTypeCommandReply,
		Success:       success,
	}

	if err := d.broker.Publish(ctx, out); err != nil {
		return fmt.Errorf("pelorus: publish command reply: %w", err)
	}
	return nil
}

// remoteDescriptionFor translates a handler error into the wire-visible
// {kind, message}. A *core.CommandError carries its own kind; anything else
// is reported as "internal" to keep unplanned detail off the wire.
func remoteDescriptionFor(err error) *core.RemoteDescription {
	if ce, ok := err.(*core.CommandError); ok {
		return &core.RemoteDescription{Kind: ce.Kind, Message: ce.Message}
	}
	return &core.RemoteDescription{Kind: "internal", Message: "internal error"}
}
