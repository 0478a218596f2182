// Package core implements the record-level operations on top of a
// domain.PersistentStore: consistent synapse ingestion, named splits,
// read queries, grouping-class derivation and prediction bookkeeping.
package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"synister/pkg/domain"
)

// MetricsRecorder receives the outcome of each service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the span factory.
func WithTracer(t Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// Service exposes the transactional record operations.
type Service struct {
	store   domain.PersistentStore
	logger  *zap.Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// Logger returns the configured logger.
func (s *Service) Logger() *zap.Logger {
	return s.logger
}

// run wraps an operation with tracing, metrics and error logging.
func (s *Service) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	err := fn(ctx)
	if span != nil {
		span.End(err)
	}
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
	if err != nil {
		s.logger.Debug("operation failed", zap.String("operation", operation), zap.Error(err))
	}
	return err
}

// Create prepares an empty dataset. With overwrite every record, predictions
// included, is dropped first; otherwise existing records are kept.
func (s *Service) Create(ctx context.Context, overwrite bool) error {
	return s.run(ctx, "create", func(ctx context.Context) error {
		if !overwrite {
			return nil
		}
		s.logger.Info("dropping existing records")
		return s.store.Reset(ctx, true)
	})
}
