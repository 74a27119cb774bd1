// Package dispatch implements the Event Dispatcher and Command Dispatcher:
// the glue between a registry.Registry's descriptors and a core.Broker's
// subscription/publish surface. Both dispatchers declare their registered
// queues, bind their patterns, and translate each Delivery into one or more
// typed invocations.
package dispatch

import "github.com/pelorus-dev/pelorus/core"

// Option configures a dispatcher at construction time.
type Option func(*options)

type options struct {
	codec       core.Codec
	matcher     core.Matcher
	middlewares []core.Middleware
}

func defaultOptions() options {
	return options{
		codec:   core.JSONCodec{},
		matcher: core.DefaultMatcher{},
	}
}

// WithCodec overrides the default JSONCodec.
func WithCodec(c core.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithMatcher overrides the default DefaultMatcher.
func WithMatcher(m core.Matcher) Option {
	return func(o *options) { o.matcher = m }
}

// WithMiddleware appends middleware, applied in registration order so the
// first one given wraps outermost (it runs first on the way in).
func WithMiddleware(mw ...core.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mw...) }
}

// applyMiddleware wraps h with mws in reverse order, so mws[0] is outermost.
func applyMiddleware(h core.Handler, mws []core.Middleware) core.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
