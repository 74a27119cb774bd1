package middleware

import (
	"context"
	"fmt"
	"runtime"

	"github.com/pelorus-dev/pelorus/core"
)

// Recovery returns middleware that recovers from panics inside a handler,
// logs the stack trace, and converts the panic into an error returned to the
// broker adapter, which nacks the delivery instead of crashing the consumer
// loop.
func Recovery() core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, d core.Delivery) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("routing_key", d.Envelope().RoutingKey).
						Interface("panic", r).
						Bytes("stack", stack()).
						Msg("handler panic recovered")
					err = fmt.Errorf("pelorus: panic recovered: %v", r)
				}
			}()
			return next(ctx, d)
		}
	}
}

func stack() []byte {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return buf[:n]
}
