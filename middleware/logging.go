// Package middleware holds cross-cutting Handler wrappers: logging, panic
// recovery, and metrics. Each wraps a core.Handler and returns a new one,
// so they compose by simple function chaining.
package middleware

import (
	"context"
	"time"

	"github.com/pelorus-dev/pelorus/core"
	"github.com/pelorus-dev/pelorus/internal/xlog"
)

var log = xlog.For("dispatch")

// Logging returns middleware that logs delivery processing duration and
// errors via zerolog.
func Logging() core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, d core.Delivery) error {
			start := time.Now()
			err := next(ctx, d)
			elapsed := time.Since(start)
			env := d.Envelope()

			ev := log.Debug()
			if err != nil {
				ev = log.Error().Err(err)
			}
			ev.Str("routing_key", env.RoutingKey).
				Dur("elapsed", elapsed).
				Msg("delivery processed")
			return err
		}
	}
}
