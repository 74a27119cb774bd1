// Package rabbitmq implements core.Broker over a RabbitMQ topic exchange
// using amqp091-go.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pelorus-dev/pelorus/broker"
	"github.com/pelorus-dev/pelorus/config"
	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
)

var log = xlog.For("rabbitmq")

func init() {
	broker.Register("rabbitmq", func(cfg config.Config) (core.Broker, error) {
		return New(cfg)
	})
}

// Broker implements core.Broker for RabbitMQ.
//
// Design decisions:
//   - Single connection, one channel, manual ack mode.
//   - A single topic exchange (config.Config.ExchangeName) backs every
//     publish and bind — the topic-exchange model the matcher's wildcard
//     grammar assumes.
//   - Durable queues by default; prefetch bounds in-flight deliveries per
//     consumer for backpressure.
//   - A handler-returned error nacks without requeue by default — dispatch
//     layers above this adapter already ack application-level failures
//     themselves, so this fires when a command reply cannot be published or
//     when a middleware (such as middleware.Recovery) returns an error.
type Broker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	opts     options
	mu       sync.Mutex
	closed   bool
}

// New dials RabbitMQ using cfg's DSN, opens a channel, and declares the
// topic exchange named in cfg.ExchangeName.
func New(cfg config.Config, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	conn, err := amqp.Dial(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pelorus/rabbitmq: dial: %w: %w", core.ErrBrokerUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pelorus/rabbitmq: open channel: %w", err)
	}

	if err := ch.Qos(opts.prefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("pelorus/rabbitmq: set qos: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("pelorus/rabbitmq: declare exchange %q: %w", cfg.ExchangeName, err)
	}

	return &Broker{conn: conn, ch: ch, exchange: cfg.ExchangeName, opts: opts}, nil
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBrokerClosed
	}
	return nil
}

func (b *Broker) DeclareQueue(ctx context.Context, name string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	ch := b.ch
	b.mu.Unlock()

	_, err := ch.QueueDeclare(name, b.opts.durable, b.opts.autoDelete, b.opts.exclusive, false, nil)
	if err != nil {
		return fmt.Errorf("pelorus/rabbitmq: declare queue %q: %w", name, err)
	}
	return nil
}

func (b *Broker) Bind(ctx context.Context, queue, pattern string) error {
	if queue == "" {
		return core.NewInvalidArgument("queue", "must not be empty")
	}
	if !core.ValidPattern(pattern) {
		return core.NewInvalidArgument("pattern", "malformed")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	ch := b.ch
	b.mu.Unlock()

	if err := ch.QueueBind(queue, pattern, b.exchange, false, nil); err != nil {
		return fmt.Errorf("pelorus/rabbitmq: bind %q to %q: %w", queue, pattern, err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue string, handler core.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	ch := b.ch
	b.mu.Unlock()

	deliveries, err := ch.Consume(queue, "", false, b.opts.exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("pelorus/rabbitmq: consume %q: %w", queue, err)
	}
	return b.consumeLoop(ctx, deliveries, handler)
}

func (b *Broker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler core.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			msg := &delivery{d: d, requeue: b.opts.requeueOnNack}
			if err := handler(ctx, msg); err != nil {
				log.Error().Str("routing_key", d.RoutingKey).Err(err).Msg("handler returned error, nacking")
				if nerr := msg.Nack(); nerr != nil {
					log.Error().Err(nerr).Msg("nack failed")
				}
				continue
			}
			if err := msg.Ack(); err != nil {
				log.Error().Err(err).Msg("ack failed")
			}
		}
	}
}

func (b *Broker) Publish(ctx context.Context, env core.Envelope) error {
	if env.Body == nil {
		return core.NewInvalidArgument("body", "must not be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	ch := b.ch
	b.mu.Unlock()

	pub := amqp.Publishing{
		ContentType:   "application/json",
		Body:          env.Body,
		Type:          string(env.Type),
		CorrelationId: env.CorrelationID,
		ReplyTo:       env.ReplyTo,
	}

	// Command replies go straight to the caller's reply queue over the
	// default exchange: every queue is implicitly bound there under its own
	// name, so this needs no exchange binding at all. Events and command
	// requests still route through the topic exchange by pattern.
	exchange := b.exchange
	if env.Type == core.MessageTypeCommandReply {
		pub.Headers = amqp.Table{"success": env.Success}
		exchange = ""
	}

	if err := ch.PublishWithContext(ctx, exchange, env.RoutingKey, false, false, pub); err != nil {
		return fmt.Errorf("pelorus/rabbitmq: publish to %q: %w: %w", env.RoutingKey, core.ErrBrokerUnavailable, err)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pelorus/rabbitmq: close channel: %w", err))
	}
	if err := b.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pelorus/rabbitmq: close connection: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
