// Package natsbus implements core.Broker over NATS JetStream, translating
// the topic-exchange wildcard grammar onto JetStream subjects: "*" still
// matches one token, and a trailing "#" maps to JetStream's ">" (itself a
// one-or-more match, so the deliberately non-standard "#" semantics carry
// over unchanged).
package natsbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pelorus-dev/pelorus/broker"
	"github.com/pelorus-dev/pelorus/config"
	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
)

var log = xlog.For("natsbus")

func init() {
	broker.Register("nats", func(cfg config.Config) (core.Broker, error) {
		return New(fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port))
	})
}

// Broker implements core.Broker for NATS JetStream.
//
// Design decisions:
//   - JetStream streams are created/extended per queue as patterns are
//     bound, since a queue's full subject list isn't known until Bind calls
//     finish — unlike RabbitMQ's independent per-bind QueueBind.
//   - Durable consumers, explicit ack, MaxDeliver bounds redelivery.
type Broker struct {
	conn *nats.Conn
	js   jetstream.JetStream
	opts options

	mu       sync.Mutex
	closed   bool
	subjects map[string][]string
	subs     []jetstream.ConsumeContext
}

// New connects to NATS at url and initializes JetStream.
func New(url string, fns ...Option) (*Broker, error) {
	opts := defaults()
	for _, fn := range fns {
		fn(&opts)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("pelorus/natsbus: connect to %q: %w: %w", url, core.ErrBrokerUnavailable, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("pelorus/natsbus: init jetstream: %w", err)
	}

	return &Broker{conn: nc, js: js, opts: opts, subjects: make(map[string][]string)}, nil
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBrokerClosed
	}
	return nil
}

// DeclareQueue records queue as a consumer name; the backing stream is
// created lazily once patterns are bound (see Bind).
func (b *Broker) DeclareQueue(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return core.ErrBrokerClosed
	}
	if _, ok := b.subjects[name]; !ok {
		b.subjects[name] = nil
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

	subject := translateSubject(pattern)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.subjects[queue] = append(b.subjects[queue], subject)
	subjects := append([]string(nil), b.subjects[queue]...)
	b.mu.Unlock()

	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(queue),
		Subjects:  subjects,
		MaxMsgs:   b.opts.maxMsgs,
		MaxBytes:  b.opts.maxBytes,
		MaxAge:    b.opts.maxAge,
		Replicas:  b.opts.replicas,
		Retention: b.opts.retention,
		Storage:   b.opts.storage,
	})
	if err != nil {
		return fmt.Errorf("pelorus/natsbus: create stream %q: %w", streamName(queue), err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue string, handler core.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrBrokerClosed
	}
	b.mu.Unlock()

	stream, err := b.js.Stream(ctx, streamName(queue))
	if err != nil {
		return fmt.Errorf("pelorus/natsbus: lookup stream %q: %w", streamName(queue), err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    queue,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    b.opts.ackWait,
		MaxDeliver: b.opts.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("pelorus/natsbus: create consumer %q: %w", queue, err)
	}

	cc, err := cons.Consume(func(jsMsg jetstream.Msg) {
		d := &delivery{msg: jsMsg}
		if err := handler(ctx, d); err != nil {
			log.Error().Str("queue", queue).Err(err).Msg("handler returned error, nacking")
			if nerr := d.Nack(); nerr != nil {
				log.Error().Err(nerr).Msg("nack failed")
			}
			return
		}
		if err := d.Ack(); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}
	})
	if err != nil {
		return fmt.Errorf("pelorus/natsbus: start consume on %q: %w", queue, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, cc)
	b.mu.Unlock()

	<-ctx.Done()
	cc.Stop()
	return nil
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
	b.mu.Unlock()

	header := nats.Header{}
	header.Set("type", string(env.Type))
	if env.CorrelationID != "" {
		header.Set("correlation-id", env.CorrelationID)
	}
	if env.ReplyTo != "" {
		header.Set("reply-to", env.ReplyTo)
	}
	if env.Type == core.MessageTypeCommandReply {
		header.Set("success", fmt.Sprintf("%t", env.Success))
	}

	nm := &nats.Msg{Subject: env.RoutingKey, Data: env.Body, Header: header}
	if _, err := b.js.PublishMsg(ctx, nm); err != nil {
		return fmt.Errorf("pelorus/natsbus: publish to %q: %w: %w", env.RoutingKey, core.ErrBrokerUnavailable, err)
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
	for _, s := range b.subs {
		s.Stop()
	}
	b.conn.Close()
	return nil
}

// translateSubject maps the matcher's pattern grammar onto a NATS subject:
// a trailing "#" becomes ">" (JetStream's own one-or-more wildcard); every
// other token, including "*", is left as-is since NATS already treats "*"
// as a single-token wildcard.
func translateSubject(pattern string) string {
	if pattern == "#" {
		return ">"
	}
	if strings.HasSuffix(pattern, ".#") {
		return strings.TrimSuffix(pattern, "#") + ">"
	}
	return pattern
}

func streamName(queue string) string {
	buf := make([]byte, len(queue))
	for i := 0; i < len(queue); i++ {
		c := queue[i]
		if c == '.' || c == '*' || c == '>' || c == ' ' {
			buf[i] = '-'
		} else {
			buf[i] = c
		}
	}
	return string(buf)
}
