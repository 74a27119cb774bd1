package middleware

import (
	"context"
	"time"

	"github.com/pelorus-dev/pelorus/core"
)

// MetricsCollector is the interface metrics backends must implement. This
// keeps the middleware decoupled from any specific metrics library.
type MetricsCollector interface {
	// MessageProcessed records that a delivery was processed on queue,
	// with the given processing duration and nil err on success.
	MessageProcessed(queue string, duration time.Duration, err error)
}

// Metrics returns middleware that reports processing metrics to collector,
// labeled with queue.
func Metrics(queue string, collector MetricsCollector) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, d core.Delivery) error {
			start := time.Now()
			err := next(ctx, d)
			collector.MessageProcessed(queue, time.Since(start), err)
			return err
		}
	}
}
