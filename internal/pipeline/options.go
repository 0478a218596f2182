package pipeline

import "go.uber.org/zap"

type options struct {
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures the queue, writer pool, dispatcher and driver.
type Option func(*options)

// WithLogger sets the structured logger. Nil is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
