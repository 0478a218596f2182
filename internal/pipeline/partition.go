// Package pipeline runs a prediction worker: it partitions the pending
// locations of a split, dispatches them in batches through a classifier and
// hands the scores to a pool of writers that upsert them into the record
// store.
package pipeline

import (
	"fmt"

	"synister/pkg/domain"
)

// Partition returns the half-open slice [start, end) of n pending locations
// owned by workerID out of totalWorkers. The slices of workers
// 0..totalWorkers-1 cover [0, n) exactly once.
func Partition(workerID, totalWorkers, n int) (start, end int, err error) {
	switch {
	case totalWorkers < 1:
		return 0, 0, domain.ValidationError{Field: "total_workers", Reason: "must be at least 1"}
	case workerID < 0 || workerID >= totalWorkers:
		return 0, 0, domain.ValidationError{Field: "worker_id", Reason: fmt.Sprintf("must be in [0, %d)", totalWorkers)}
	case n < 0:
		return 0, 0, domain.ValidationError{Field: "n", Reason: "must not be negative"}
	}
	w, t, size := int64(workerID), int64(totalWorkers), int64(n)
	return int(w * size / t), int((w + 1) * size / t), nil
}
