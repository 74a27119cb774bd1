package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/dispatch"
	"github.com/pelorus-dev/pelorus/internal/mock"
	"github.com/pelorus-dev/pelorus/registry"
)

type orderPlaced struct {
	ID int `json:"id"`
}

func TestEventDispatcher_FanOutToAllMatches(t *testing.T) {
	reg := registry.New()
	var calledWide, calledNarrow int

	if err := registry.RegisterEvent(reg, "Orders", "order.*", func(ctx context.Context, p orderPlaced) error {
		calledWide++
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.RegisterEvent(reg, "Orders", "order.placed", func(ctx context.Context, p orderPlaced) error {
		calledNarrow++
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	broker := mock.NewBroker()
	d := dispatch.NewEventDispatcher(reg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Subscribe(ctx)
	waitForConsumer(t, broker, "Orders")

	body, _ := json.Marshal(orderPlaced{ID: 7})
	if err := broker.Deliver(ctx, "Orders", core.Envelope{RoutingKey: "order.placed", Body: body}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if calledWide != 1 || calledNarrow != 1 {
		t.Fatalf("expected both handlers invoked once, got wide=%d narrow=%d", calledWide, calledNarrow)
	}
}

func TestEventDispatcher_NoMatchAcks(t *testing.T) {
	reg := registry.New()
	if err := registry.RegisterEvent(reg, "Orders", "order.placed", func(ctx context.Context, p orderPlaced) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}

	broker := mock.NewBroker()
	d := dispatch.NewEventDispatcher(reg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Subscribe(ctx)
	waitForConsumer(t, broker, "Orders")

	if err := broker.Deliver(ctx, "Orders", core.Envelope{RoutingKey: "order.cancelled", Body: []byte("{}")}); err != nil {
		t.Fatalf("expected no error for unmatched delivery, got %v", err)
	}
}

type quoteRequest struct {
	SKU string `json:"sku"`
}
type quoteReply struct {
	Price int `json:"price"`
}

func TestCommandDispatcher_SuccessReply(t *testing.T) {
	reg := registry.New()
	if err := registry.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, req quoteRequest) (quoteReply, error) {
		return quoteReply{Price: 42}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	broker := mock.NewBroker()
	d := dispatch.NewCommandDispatcher(reg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Subscribe(ctx)
	waitForConsumer(t, broker, "Pricing")

	body, _ := json.Marshal(quoteRequest{SKU: "abc"})
	err := broker.Deliver(ctx, "Pricing", core.Envelope{
		RoutingKey:    "price.quote",
		Body:          body,
		ReplyTo:       "rpc.reply.1",
		CorrelationID: "corr-1",
		Type:          core.MessageTypeCommandRequest,
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	replies := broker.Published()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply published, got %d", len(replies))
	}
	reply := replies[0]
	if !reply.Success {
		t.Fatalf("expected success=true, got false (body=%s)", reply.Body)
	}
	if reply.CorrelationID != "corr-1" || reply.RoutingKey != "rpc.reply.1" {
		t.Fatalf("reply envelope mismatch: %+v", reply)
	}
	var got quoteReply
	if err := json.Unmarshal(reply.Body, &got); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if got.Price != 42 {
		t.Fatalf("expected price 42, got %d", got.Price)
	}
}

func TestCommandDispatcher_HandlerErrorYieldsRemoteDescription(t *testing.T) {
	reg := registry.New()
	if err := registry.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, req quoteRequest) (quoteReply, error) {
		return quoteReply{}, core.NewCommandError("sku_not_found", "no such sku")
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	broker := mock.NewBroker()
	d := dispatch.NewCommandDispatcher(reg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Subscribe(ctx)
	waitForConsumer(t, broker, "Pricing")

	body, _ := json.Marshal(quoteRequest{SKU: "missing"})
	if err := broker.Deliver(ctx, "Pricing", core.Envelope{
		RoutingKey:    "price.quote",
		Body:          body,
		ReplyTo:       "rpc.reply.1",
		CorrelationID: "corr-2",
		Type:          core.MessageTypeCommandRequest,
	}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	replies := broker.Published()
	if len(replies) != 1 || replies[0].Success {
		t.Fatalf("expected 1 failed reply, got %+v", replies)
	}
	var desc core.RemoteDescription
	if err := json.Unmarshal(replies[0].Body, &desc); err != nil {
		t.Fatalf("unmarshal remote description: %v", err)
	}
	if desc.Kind != "sku_not_found" {
		t.Fatalf("expected kind sku_not_found, got %q", desc.Kind)
	}
}

func TestCommandDispatcher_UnknownRoutingKey(t *testing.T) {
	reg := registry.New()
	if err := registry.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, req quoteRequest) (quoteReply, error) {
		return quoteReply{}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	broker := mock.NewBroker()
	d := dispatch.NewCommandDispatcher(reg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Subscribe(ctx)
	waitForConsumer(t, broker, "Pricing")

	if err := broker.Deliver(ctx, "Pricing", core.Envelope{
		RoutingKey:    "price.unknown",
		Body:          []byte("{}"),
		ReplyTo:       "rpc.reply.1",
		CorrelationID: "corr-3",
		Type:          core.MessageTypeCommandRequest,
	}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	replies := broker.Published()
	if len(replies) != 1 || replies[0].Success {
		t.Fatalf("expected 1 failed reply for unknown routing key, got %+v", replies)
	}
	var desc core.RemoteDescription
	if err := json.Unmarshal(replies[0].Body, &desc); err != nil {
		t.Fatalf("unmarshal remote description: %v", err)
	}
	if desc.Kind != "UnknownCommand" {
		t.Fatalf("expected kind UnknownCommand, got %q", desc.Kind)
	}
}

func TestCommandDispatcher_PublishFailurePropagates(t *testing.T) {
	reg := registry.New()
	if err := registry.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, req quoteRequest) (quoteReply, error) {
		return quoteReply{Price: 1}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	broker := mock.NewBroker()
	broker.PublishErr = errors.New("broker down")
	d := dispatch.NewCommandDispatcher(reg, broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Subscribe(ctx)
	waitForConsumer(t, broker, "Pricing")

	err := broker.Deliver(ctx, "Pricing", core.Envelope{
		RoutingKey:    "price.quote",
		Body:          []byte(`{"sku":"abc"}`),
		ReplyTo:       "rpc.reply.1",
		CorrelationID: "corr-4",
		Type:          core.MessageTypeCommandRequest,
	})
	if err == nil {
		t.Fatal("expected publish failure to propagate as nack-causing error")
	}
}

// waitForConsumer polls until broker has registered a Consume handler for
// queue, since Subscribe's goroutine binds/declares asynchronously.
func waitForConsumer(t *testing.T, broker *mock.Broker, queue string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(broker.Bindings(queue)) > 0 {
			if err := broker.Deliver(context.Background(), queue, core.Envelope{RoutingKey: "__probe__", Body: []byte("{}")}); err != core.ErrNoBroker {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for queue %q to be consumed", queue)
}
