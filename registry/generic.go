package registry

import "context"

// RegisterEvent registers a typed event handler: T is the parameter type,
// captured at the call site as a generic type argument instead of being
// discovered via runtime reflection.
func RegisterEvent[T any](r *Registry, queue, pattern string, fn func(ctx context.Context, param T) error) error {
	return r.RegisterEvent(EventDescriptor{
		Queue:   queue,
		Pattern: pattern,
		New:     func() any { return new(T) },
		Invoke: func(ctx context.Context, param any) error {
			return fn(ctx, *param.(*T))
		},
	})
}

// RegisterCommand registers a typed command handler: Req is the request
// parameter_shape, Resp the reply value type.
func RegisterCommand[Req, Resp any](r *Registry, queue, routingKey string, fn func(ctx context.Context, req Req) (Resp, error)) error {
	return r.RegisterCommand(CommandDescriptor{
		Queue:      queue,
		RoutingKey: routingKey,
		New:        func() any { return new(Req) },
		Invoke: func(ctx context.Context, param any) (any, error) {
			return fn(ctx, *param.(*Req))
		},
	})
}
