package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"synister/pkg/domain"
)

// PredictionStore is the write side the pool needs. domain.PersistentStore
// satisfies it.
type PredictionStore interface {
	UpsertPrediction(ctx context.Context, p domain.Prediction) error
}

// WriterPool drains a Queue with a fixed number of competing writers. Each
// writer upserts the prediction for a result and then acknowledges it. A
// failed write is not acknowledged: the pool stops and Drain reports the
// error.
type WriterPool struct {
	store   PredictionStore
	queue   *Queue
	scope   domain.RunScope
	workers int
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool

	failed   chan struct{}
	failOnce sync.Once
	err      error

	stopOnce sync.Once
	stopErr  error
	written  atomic.Int64
}

// NewWriterPool prepares workers writers for scope. Fewer than one worker is
// treated as one.
func NewWriterPool(store PredictionStore, queue *Queue, scope domain.RunScope, workers int, opts ...Option) *WriterPool {
	if workers < 1 {
		workers = 1
	}
	o := buildOptions(opts)
	return &WriterPool{
		store:   store,
		queue:   queue,
		scope:   scope,
		workers: workers,
		logger:  o.logger,
		metrics: o.metrics,
		failed:  make(chan struct{}),
	}
}

// Start launches the writers. They run until Stop or a write failure.
func (p *WriterPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("writer pool stopped")
	}
	if p.group != nil {
		return fmt.Errorf("writer pool already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p.cancel, p.group = cancel, g
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error { return p.loop(gctx, id) })
	}
	p.logger.Debug("writer pool started", zap.Int("workers", p.workers))
	return nil
}

func (p *WriterPool) loop(ctx context.Context, id int) error {
	for {
		r, err := p.queue.Get(ctx)
		if err != nil {
			return nil
		}
		pred := domain.Prediction{PredictionKey: p.scope.Key(r.Location), Scores: r.Scores}
		if err := p.store.UpsertPrediction(ctx, pred); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			p.metrics.predictionFailed()
			p.logger.Error("prediction write failed",
				zap.Int("writer", id),
				zap.Int64("x", r.Location.X), zap.Int64("y", r.Location.Y), zap.Int64("z", r.Location.Z),
				zap.Error(err))
			werr := fmt.Errorf("write prediction at (%d,%d,%d): %w", r.Location.X, r.Location.Y, r.Location.Z, err)
			p.fail(werr)
			return werr
		}
		p.queue.Done()
		p.written.Add(1)
		p.metrics.predictionWritten()
	}
}

func (p *WriterPool) fail(err error) {
	p.failOnce.Do(func() {
		p.err = err
		close(p.failed)
	})
}

// Failed is closed once a writer has failed.
func (p *WriterPool) Failed() <-chan struct{} {
	return p.failed
}

// Drain blocks until every enqueued result has been acknowledged. It returns
// early with the first writer failure, or with ctx's error.
func (p *WriterPool) Drain(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	joined := make(chan error, 1)
	go func() { joined <- p.queue.Join(ctx) }()
	select {
	case err := <-joined:
		return err
	case <-p.failed:
		return p.err
	}
}

// Stop terminates the writers and waits for them to exit. It is safe to call
// more than once and before Start. Items still queued are left unacknowledged.
func (p *WriterPool) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel, g := p.cancel, p.group
		p.stopped = true
		p.mu.Unlock()
		if g == nil {
			return
		}
		cancel()
		p.stopErr = g.Wait()
		p.logger.Debug("writer pool stopped", zap.Int64("written", p.written.Load()))
	})
	return p.stopErr
}

// Written reports the number of predictions persisted so far.
func (p *WriterPool) Written() int64 {
	return p.written.Load()
}
