package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"synister/pkg/domain"
)

// Dispatcher feeds locations through the classifier in fixed-size batches
// and hands every score vector to the queue.
type Dispatcher struct {
	raw        RawSource
	classifier Classifier
	queue      *Queue
	spec       RawSpec
	batchSize  int
	numClasses int
	logger     *zap.Logger
	metrics    *Metrics
}

// NewDispatcher builds a dispatcher. numClasses, when positive, is the
// required length of every score vector.
func NewDispatcher(raw RawSource, classifier Classifier, queue *Queue, spec RawSpec, batchSize, numClasses int, opts ...Option) *Dispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	o := buildOptions(opts)
	return &Dispatcher{
		raw:        raw,
		classifier: classifier,
		queue:      queue,
		spec:       spec,
		batchSize:  batchSize,
		numClasses: numClasses,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

// Dispatch processes locations in order and returns the number of results
// enqueued. The first failing batch aborts the dispatch; batches already
// enqueued stay queued.
func (d *Dispatcher) Dispatch(ctx context.Context, locations []domain.Location) (int, error) {
	enqueued := 0
	for start := 0; start < len(locations); start += d.batchSize {
		end := min(start+d.batchSize, len(locations))
		n, err := d.dispatchBatch(ctx, start/d.batchSize, locations[start:end])
		enqueued += n
		if err != nil {
			return enqueued, err
		}
	}
	return enqueued, nil
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, index int, batch []domain.Location) (int, error) {
	began := time.Now()
	zyx := make([][3]int64, len(batch))
	for i, loc := range batch {
		zyx[i] = loc.ZYX()
	}
	_, normalized, err := d.raw.FetchRaw(ctx, zyx, d.spec)
	if err != nil {
		return 0, fmt.Errorf("fetch raw for batch %d: %w", index, err)
	}
	scores, err := d.classifier.Predict(ctx, normalized)
	if err != nil {
		return 0, fmt.Errorf("classify batch %d: %w", index, err)
	}
	if len(scores) != len(batch) {
		return 0, fmt.Errorf("classify batch %d: %d score vectors for %d locations", index, len(scores), len(batch))
	}
	if d.numClasses > 0 {
		for i, s := range scores {
			if len(s) != d.numClasses {
				return 0, fmt.Errorf("classify batch %d: entry %d has %d scores, want %d", index, i, len(s), d.numClasses)
			}
		}
	}
	d.metrics.batchDone(time.Since(began))
	d.logger.Debug("batch classified", zap.Int("batch", index), zap.Int("size", len(batch)))

	for i, loc := range batch {
		if err := d.queue.Put(ctx, Result{Location: loc, Scores: append([]float64(nil), scores[i]...)}); err != nil {
			return i, err
		}
	}
	return len(batch), nil
}
