// Package rpc implements the synchronous request/reply side of a command
// call, correlating each outbound request with its eventual reply over a
// private reply queue.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
)

var log = xlog.For("rpc-client")

// pendingState is the single-assignment rendezvous for one in-flight call:
// it starts pending and is resolved exactly once, by either the reply
// consumer or the timeout path, whichever gets there first.
type pendingState struct {
	replyCh chan core.Envelope
}

// Client issues command requests over a Broker and blocks for the correlated
// reply. One Client owns one reply queue, consumed for the lifetime of the
// process; Call is safe for concurrent use.
type Client struct {
	broker   core.Broker
	codec    core.Codec
	replyTo  string
	timeout  time.Duration
	startErr error

	mu      sync.Mutex
	pending map[string]*pendingState
	started bool
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithCodec overrides the default JSONCodec.
func WithCodec(c core.Codec) ClientOption {
	return func(cl *Client) { cl.codec = c }
}

// WithDefaultTimeout overrides the fallback timeout Call uses when called
// with timeout <= 0.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.timeout = d }
}

// WithReplyQueue overrides the auto-generated private reply queue name.
func WithReplyQueue(name string) ClientOption {
	return func(cl *Client) { cl.replyTo = name }
}

// NewClient builds an RPC client over broker. The reply queue name defaults
// to "rpc.reply." plus a fresh UUIDv7, so independent client instances never
// collide on the same connection.
func NewClient(broker core.Broker, opts ...ClientOption) *Client {
	id, err := uuid.NewV7()
	replyTo := "rpc.reply." + id.String()

	c := &Client{
		broker:   broker,
		codec:    core.JSONCodec{},
		replyTo:  replyTo,
		timeout:  5 * time.Second,
		pending:  make(map[string]*pendingState),
		startErr: err,
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Start declares the client's private reply queue and begins consuming
// replies in the background. Calling it before Call is optional: Call
// starts the client lazily if this hasn't happened yet.
func (c *Client) Start(ctx context.Context) error {
	if c.startErr != nil {
		return fmt.Errorf("pelorus: generate reply queue id: %w", c.startErr)
	}
	if c.broker == nil {
		return core.ErrNoBroker
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.broker.DeclareQueue(ctx, c.replyTo); err != nil {
		return fmt.Errorf("pelorus: declare reply queue %q: %w", c.replyTo, err)
	}
	// Bind the reply queue to its own name. On broker/rabbitmq a command-reply
	// never routes through this binding — replies go straight to the named
	// queue over the default exchange — but adapters whose consumer model
	// requires a subscription target up front (e.g. a JetStream stream) need
	// this call to make the queue consumable, and their replies reach the
	// queue through it.
	if err := c.broker.Bind(ctx, c.replyTo, c.replyTo); err != nil {
		return fmt.Errorf("pelorus: bind reply queue %q: %w", c.replyTo, err)
	}

	go func() {
		if err := c.broker.Consume(ctx, c.replyTo, c.handleReply); err != nil {
			log.Error().Err(err).Str("reply_queue", c.replyTo).Msg("reply consumer stopped")
		}
	}()
	return nil
}

// handleReply resolves the pending call matching the delivery's correlation
// id, if any is still waiting. A reply with no matching pending entry (a
// late reply after a timed-out caller stopped waiting) is dropped.
func (c *Client) handleReply(ctx context.Context, d core.Delivery) error {
	env := d.Envelope()

	c.mu.Lock()
	p, ok := c.pending[env.CorrelationID]
	if ok {
		delete(c.pending, env.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		log.Debug().Str("correlation_id", env.CorrelationID).Msg("reply for unknown or expired call dropped")
		return nil
	}

	p.replyCh <- env
	return nil
}

// Call sends req to routingKey and blocks for the correlated reply or
// timeout, whichever comes first. timeout <= 0 uses the client's default.
// A remote handler failure surfaces as *core.RemoteCommandError; elapsing
// the timeout surfaces core.ErrRpcTimeout.
func Call[Req, Resp any](ctx context.Context, c *Client, routingKey string, req Req, timeout time.Duration) (Resp, error) {
	var zero Resp

	if err := c.Start(ctx); err != nil {
		return zero, err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	id, err := uuid.NewV7()
	if err != nil {
		return zero, fmt.Errorf("pelorus: generate correlation id: %w", err)
	}
	correlationID := id.String()

	body, err := c.codec.Encode(req)
	if err != nil {
		return zero, fmt.Errorf("pelorus: encode request: %w", err)
	}

	p := &pendingState{replyCh: make(chan core.Envelope, 1)}
	c.mu.Lock()
	c.pending[correlationID] = p
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}

	env := core.Envelope{
		RoutingKey:    routingKey,
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       c.replyTo,
		Type:          core.MessageTypeCommandRequest,
	}
	if err := c.broker.Publish(ctx, env); err != nil {
		cleanup()
		return zero, fmt.Errorf("pelorus: publish command request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-p.replyCh:
		return decodeReply[Resp](c.codec, reply)
	case <-timer.C:
		cleanup()
		return zero, core.ErrRpcTimeout
	case <-ctx.Done():
		cleanup()
		return zero, ctx.Err()
	}
}

// decodeReply turns a command-reply envelope into a (Resp, error): a
// success=false reply decodes its body as a core.RemoteDescription and
// returns *core.RemoteCommandError; success=true decodes it as Resp.
func decodeReply[Resp any](codec core.Codec, reply core.Envelope) (Resp, error) {
	var zero Resp

	if !reply.Success {
		var desc core.RemoteDescription
		if err := codec.Decode(reply.Body, &desc); err != nil {
			return zero, fmt.Errorf("pelorus: decode remote error: %w", err)
		}
		return zero, &core.RemoteCommandError{Kind: desc.Kind, Message: desc.Message}
	}

	var resp Resp
	if err := codec.Decode(reply.Body, &resp); err != nil {
		return zero, fmt.Errorf("pelorus: decode reply: %w", err)
	}
	return resp, nil
}

// Close releases client resources. The reply consumer exits once the ctx
// passed to Start is cancelled; Close is a placeholder for symmetry with
// Broker.Close and future buffered-state teardown.
func (c *Client) Close() error {
	return nil
}
