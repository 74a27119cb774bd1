package rabbitmq

// Option configures the RabbitMQ broker.
type Option func(*options)

type options struct {
	durable       bool
	autoDelete    bool
	exclusive     bool
	prefetchCount int
	requeueOnNack bool
}

func defaults() options {
	return options{
		durable:       true,
		prefetchCount: 10,
		requeueOnNack: false,
	}
}

// WithDurable controls whether declared queues survive broker restart.
func WithDurable(d bool) Option {
	return func(o *options) { o.durable = d }
}

// WithPrefetchCount sets how many unacked deliveries a channel holds at once.
func WithPrefetchCount(n int) Option {
	return func(o *options) { o.prefetchCount = n }
}

// WithRequeueOnNack controls whether a handler-returned error requeues the
// delivery instead of dropping it. Dispatchers ack application-level
// failures themselves, so this only matters for transport-level nacks.
func WithRequeueOnNack(requeue bool) Option {
	return func(o *options) { o.requeueOnNack = requeue }
}

// WithAutoDelete causes declared queues to be removed once their last
// consumer disconnects.
func WithAutoDelete(d bool) Option {
	return func(o *options) { o.autoDelete = d }
}
