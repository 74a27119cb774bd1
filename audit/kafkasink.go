// Package audit wraps a core.Broker with an outbox mirror: every published
// envelope is also written to a Kafka topic via segmentio/kafka-go, for
// replay or downstream analytics. Kafka's partition/offset model doesn't
// map onto the topic-exchange bind semantics core.Broker assumes, so it
// isn't implemented as a third Broker Adapter — it's repurposed here as a
// decorator that only ever writes, never binds or consumes.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
)

var log = xlog.For("audit")

// record is the JSON shape written to the audit topic.
type record struct {
	RoutingKey    string `json:"routing_key"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Success       bool   `json:"success,omitempty"`
	BodySize      int    `json:"body_size"`
	PublishedAt   string `json:"published_at"`
}

// Sink decorates a core.Broker, mirroring every Publish to a Kafka topic.
// A write failure is logged, not propagated — an outage of the audit topic
// must never block the primary message flow.
type Sink struct {
	inner  core.Broker
	writer *kafka.Writer
	topic  string
}

// NewSink wraps inner, writing a mirrored audit record for every published
// envelope to topic on the given Kafka brokers.
func NewSink(inner core.Broker, brokers []string, topic string) *Sink {
	return &Sink{
		inner: inner,
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Error().Str("topic", topic).Err(err).Msg("failed to write audit record")
				}
			},
		},
	}
}

func (s *Sink) Connect(ctx context.Context) error { return s.inner.Connect(ctx) }

func (s *Sink) DeclareQueue(ctx context.Context, name string) error {
	return s.inner.DeclareQueue(ctx, name)
}

func (s *Sink) Bind(ctx context.Context, queue, pattern string) error {
	return s.inner.Bind(ctx, queue, pattern)
}

func (s *Sink) Consume(ctx context.Context, queue string, handler core.Handler) error {
	return s.inner.Consume(ctx, queue, handler)
}

// Publish forwards to the wrapped broker, then best-effort mirrors the
// envelope to Kafka. Only the forwarded Publish's result is returned.
func (s *Sink) Publish(ctx context.Context, env core.Envelope) error {
	err := s.inner.Publish(ctx, env)
	s.mirror(ctx, env)
	return err
}

func (s *Sink) mirror(ctx context.Context, env core.Envelope) {
	rec := record{
		RoutingKey:    env.RoutingKey,
		Type:          string(env.Type),
		CorrelationID: env.CorrelationID,
		Success:       env.Success,
		BodySize:      len(env.Body),
		PublishedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	body, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode audit record")
		return
	}

	km := kafka.Message{Key: []byte(env.RoutingKey), Value: body}
	if err := s.writer.WriteMessages(ctx, km); err != nil {
		log.Error().Str("topic", s.topic).Err(err).Msg("failed to write audit record")
	}
}

func (s *Sink) Close() error {
	var errs []error
	if err := s.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pelorus/audit: close kafka writer: %w", err))
	}
	if err := s.inner.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pelorus/audit: close inner broker: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
