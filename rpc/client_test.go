package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/mock"
	"github.com/pelorus-dev/pelorus/rpc"
)

type quoteRequest struct {
	SKU string `json:"sku"`
}
type quoteReply struct {
	Price int `json:"price"`
}

// respondTo simulates a command handler: it waits for the request to reach
// the broker's published list, then delivers a reply to the caller's reply
// queue using the correlation id and reply_to copied from the request.
func respondTo(t *testing.T, broker *mock.Broker, build func(req core.Envelope) core.Envelope) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pubs := broker.Published()
		if len(pubs) > 0 {
			req := pubs[len(pubs)-1]
			reply := build(req)
			if err := broker.Deliver(context.Background(), req.ReplyTo, reply); err != nil {
				t.Logf("deliver reply: %v (retrying)", err)
				time.Sleep(time.Millisecond)
				continue
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for request to be published")
}

func TestCall_RoundTrip(t *testing.T) {
	broker := mock.NewBroker()
	client := rpc.NewClient(broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go respondTo(t, broker, func(req core.Envelope) core.Envelope {
		body, _ := json.Marshal(quoteReply{Price: 99})
		return core.Envelope{
			RoutingKey:    req.ReplyTo,
			Body:          body,
			CorrelationID: req.CorrelationID,
			Type:          core.MessageTypeCommandReply,
			Success:       true,
		}
	})

	resp, err := rpc.Call[quoteRequest, quoteReply](ctx, client, "price.quote", quoteRequest{SKU: "abc"}, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Price != 99 {
		t.Fatalf("expected price 99, got %d", resp.Price)
	}
}

func TestCall_RemoteError(t *testing.T) {
	broker := mock.NewBroker()
	client := rpc.NewClient(broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go respondTo(t, broker, func(req core.Envelope) core.Envelope {
		body, _ := json.Marshal(core.RemoteDescription{Kind: "sku_not_found", Message: "no such sku"})
		return core.Envelope{
			RoutingKey:    req.ReplyTo,
			Body:          body,
			CorrelationID: req.CorrelationID,
			Type:          core.MessageTypeCommandReply,
			Success:       false,
		}
	})

	_, err := rpc.Call[quoteRequest, quoteReply](ctx, client, "price.quote", quoteRequest{SKU: "missing"}, time.Second)
	var rce *core.RemoteCommandError
	if !errors.As(err, &rce) {
		t.Fatalf("expected *core.RemoteCommandError, got %v", err)
	}
	if rce.Kind != "sku_not_found" {
		t.Fatalf("expected kind sku_not_found, got %q", rce.Kind)
	}
}

func TestCall_UnknownCommand(t *testing.T) {
	broker := mock.NewBroker()
	client := rpc.NewClient(broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go respondTo(t, broker, func(req core.Envelope) core.Envelope {
		body, _ := json.Marshal(core.RemoteDescription{Kind: "UnknownCommand", Message: "no such command"})
		return core.Envelope{
			RoutingKey:    req.ReplyTo,
			Body:          body,
			CorrelationID: req.CorrelationID,
			Type:          core.MessageTypeCommandReply,
			Success:       false,
		}
	})

	_, err := rpc.Call[quoteRequest, quoteReply](ctx, client, "price.nonexistent", quoteRequest{}, time.Second)
	var rce *core.RemoteCommandError
	if !errors.As(err, &rce) {
		t.Fatalf("expected *core.RemoteCommandError, got %v", err)
	}
	if rce.Kind != "UnknownCommand" {
		t.Fatalf("expected kind UnknownCommand, got %q", rce.Kind)
	}
}

func TestCall_TimeoutThenLateReplyIsDropped(t *testing.T) {
	broker := mock.NewBroker()
	client := rpc.NewClient(broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := rpc.Call[quoteRequest, quoteReply](ctx, client, "price.quote", quoteRequest{SKU: "slow"}, 20*time.Millisecond)
	if !errors.Is(err, core.ErrRpcTimeout) {
		t.Fatalf("expected ErrRpcTimeout, got %v", err)
	}

	// A reply that arrives after the caller gave up must not panic or block;
	// it is simply dropped since the pending entry was already removed.
	pubs := broker.Published()
	if len(pubs) != 1 {
		t.Fatalf("expected request to have been published, got %d", len(pubs))
	}
	req := pubs[0]
	body, _ := json.Marshal(quoteReply{Price: 1})
	err = broker.Deliver(ctx, req.ReplyTo, core.Envelope{
		RoutingKey:    req.ReplyTo,
		Body:          body,
		CorrelationID: req.CorrelationID,
		Type:          core.MessageTypeCommandReply,
		Success:       true,
	})
	if err != nil {
		t.Fatalf("late delivery should not error: %v", err)
	}
}
