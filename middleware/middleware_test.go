package middleware_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/mock"
	"github.com/pelorus-dev/pelorus/middleware"
)

func TestLogging_OK(t *testing.T) {
	handler := middleware.Logging()(func(ctx context.Context, d core.Delivery) error {
		return nil
	})

	d := mock.NewDelivery(core.Envelope{RoutingKey: "test.topic"})
	if err := handler(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_Error(t *testing.T) {
	handler := middleware.Logging()(func(ctx context.Context, d core.Delivery) error {
		return errors.New("boom")
	})

	d := mock.NewDelivery(core.Envelope{RoutingKey: "test.topic"})
	if err := handler(context.Background(), d); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestRecovery(t *testing.T) {
	handler := middleware.Recovery()(func(ctx context.Context, d core.Delivery) error {
		panic("test panic")
	})

	d := mock.NewDelivery(core.Envelope{RoutingKey: "test.topic"})
	err := handler(context.Background(), d)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := middleware.Recovery()(func(ctx context.Context, d core.Delivery) error {
		return nil
	})

	d := mock.NewDelivery(core.Envelope{RoutingKey: "test.topic"})
	if err := handler(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type collectingMetrics struct {
	calls []time.Duration
	errs  []error
}

func (c *collectingMetrics) MessageProcessed(queue string, duration time.Duration, err error) {
	c.calls = append(c.calls, duration)
	c.errs = append(c.errs, err)
}

func TestMetrics(t *testing.T) {
	mc := &collectingMetrics{}
	handler := middleware.Metrics("Orders", mc)(func(ctx context.Context, d core.Delivery) error {
		return nil
	})

	d := mock.NewDelivery(core.Envelope{RoutingKey: "orders.created"})
	if err := handler(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mc.calls) != 1 {
		t.Fatalf("expected 1 metrics call, got %d", len(mc.calls))
	}
	if mc.errs[0] != nil {
		t.Errorf("expected nil error recorded, got %v", mc.errs[0])
	}
}
