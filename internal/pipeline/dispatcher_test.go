package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"synister/pkg/domain"
)

type stubRaw struct {
	mu      sync.Mutex
	batches [][][3]int64
	failOn  int // 1-based batch number, 0 never
}

func (r *stubRaw) FetchRaw(_ context.Context, locations [][3]int64, spec RawSpec) (Tensor, Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, locations)
	if r.failOn > 0 && len(r.batches) == r.failOn {
		return Tensor{}, Tensor{}, errors.New("n5 chunk missing")
	}
	shape := append([]int{len(locations)}, spec.InputShape...)
	size := len(locations)
	for _, d := range spec.InputShape {
		size *= d
	}
	return Tensor{Shape: shape, Data: make([]float32, size)}, Tensor{Shape: shape, Data: make([]float32, size)}, nil
}

type stubClassifier struct {
	scores []float64
	short  bool
	err    error
}

func (c stubClassifier) Predict(_ context.Context, batch Tensor) ([][]float64, error) {
	if c.err != nil {
		return nil, c.err
	}
	n := batch.Shape[0]
	if c.short {
		n--
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), c.scores...)
	}
	return out, nil
}

func locations(n int) []domain.Location {
	out := make([]domain.Location, n)
	for i := range out {
		out[i] = domain.Location{X: int64(i), Y: int64(10 + i), Z: int64(20 + i)}
	}
	return out
}

const (
	timeout = 2 * time.Second
	tick    = time.Millisecond
)

var testRawSpec = RawSpec{InputShape: []int{2, 4, 4}, VoxelSize: []int{40, 4, 4}}

func TestDispatchBatchesInOrder(t *testing.T) {
	ctx := context.Background()
	raw := &stubRaw{}
	queue := NewQueue(16)
	d := NewDispatcher(raw, stubClassifier{scores: []float64{0.25, 0.75}}, queue, testRawSpec, 2, 2)

	n, err := d.Dispatch(ctx, locations(5))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, queue.Outstanding())

	require.Len(t, raw.batches, 3)
	require.Len(t, raw.batches[2], 1, "final batch holds the remainder")
	require.Equal(t, [3]int64{20, 10, 0}, raw.batches[0][0], "raw is fetched in z, y, x order")

	for i := 0; i < 5; i++ {
		r, err := queue.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, locations(5)[i], r.Location)
		require.Equal(t, []float64{0.25, 0.75}, r.Scores)
		queue.Done()
	}
}

func TestDispatchStopsAtFailingBatch(t *testing.T) {
	raw := &stubRaw{failOn: 2}
	queue := NewQueue(16)
	d := NewDispatcher(raw, stubClassifier{scores: []float64{1}}, queue, testRawSpec, 2, 0)

	n, err := d.Dispatch(context.Background(), locations(6))
	require.ErrorContains(t, err, "n5 chunk missing")
	require.Equal(t, 2, n)
	require.Len(t, raw.batches, 2, "no batch after the failure is fetched")
}

func TestDispatchRejectsClassifierOutputMismatch(t *testing.T) {
	cases := []struct {
		name       string
		classifier stubClassifier
		numClasses int
		want       string
	}{
		{"missing vector", stubClassifier{scores: []float64{1, 0}, short: true}, 2, "score vectors"},
		{"wrong class count", stubClassifier{scores: []float64{1, 0, 0}}, 2, "want 2"},
		{"classifier error", stubClassifier{err: errors.New("cuda oom")}, 2, "cuda oom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			queue := NewQueue(4)
			d := NewDispatcher(&stubRaw{}, tc.classifier, queue, testRawSpec, 3, tc.numClasses)
			n, err := d.Dispatch(context.Background(), locations(3))
			require.ErrorContains(t, err, tc.want)
			require.Zero(t, n)
			require.Zero(t, queue.Outstanding())
		})
	}
}

func TestDispatchBlocksOnFullQueueUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	queue := NewQueue(1)
	d := NewDispatcher(&stubRaw{}, stubClassifier{scores: []float64{1}}, queue, testRawSpec, 4, 1)

	done := make(chan struct{})
	var n int
	var err error
	go func() {
		defer close(done)
		n, err = d.Dispatch(ctx, locations(4))
	}()
	require.Eventually(t, func() bool { return queue.Outstanding() == 2 }, timeout, tick)
	cancel()
	<-done
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, n)
	require.Equal(t, 1, queue.Outstanding())
}
