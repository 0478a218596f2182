package pipeline

import (
	"context"
	"sync"

	"synister/pkg/domain"
)

// Result is one classifier output awaiting persistence.
type Result struct {
	Location domain.Location
	Scores   []float64
}

// Queue is a bounded, joinable queue of results. Every Put must be matched
// by exactly one Done once the item has been handled; Join waits for the
// outstanding count to reach zero.
type Queue struct {
	items   chan Result
	metrics *Metrics

	mu          sync.Mutex
	outstanding int
	idle        chan struct{} // closed while outstanding == 0
}

// NewQueue returns a queue holding at most capacity undelivered items. A
// capacity of zero makes Put a synchronous handoff.
func NewQueue(capacity int, opts ...Option) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	o := buildOptions(opts)
	idle := make(chan struct{})
	close(idle)
	return &Queue{items: make(chan Result, capacity), metrics: o.metrics, idle: idle}
}

// Put enqueues r, blocking while the queue is full. The item counts as
// outstanding before it is handed off.
func (q *Queue) Put(ctx context.Context, r Result) error {
	q.add(1)
	select {
	case q.items <- r:
		return nil
	case <-ctx.Done():
		q.add(-1)
		return ctx.Err()
	}
}

// Get dequeues the next result, blocking while the queue is empty.
func (q *Queue) Get(ctx context.Context) (Result, error) {
	select {
	case r := <-q.items:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done acknowledges one item obtained from Get.
func (q *Queue) Done() {
	q.add(-1)
}

// Outstanding reports the number of enqueued but unacknowledged items.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Join blocks until every enqueued item has been acknowledged or ctx ends.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) add(delta int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	before := q.outstanding
	q.outstanding += delta
	if q.outstanding < 0 {
		panic("pipeline: Done called more times than Put")
	}
	switch {
	case before == 0 && q.outstanding > 0:
		q.idle = make(chan struct{})
	case before > 0 && q.outstanding == 0:
		close(q.idle)
	}
	q.metrics.setOutstanding(q.outstanding)
}
