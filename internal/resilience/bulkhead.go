package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bulkhead limits how many agent calls are in flight across all runs of a
// process, independent of the per-group parallelism of a single run.
type Bulkhead struct {
	sem *semaphore.Weighted
}

// NewBulkhead creates a Bulkhead with at most limit concurrent slots.
// A limit below 1 returns nil, which runs everything unbounded.
func NewBulkhead(limit int) *Bulkhead {
	if limit < 1 {
		return nil
	}
	return &Bulkhead{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot. It blocks while all
// slots are busy and returns ctx.Err() if ctx ends first.
func (b *Bulkhead) Run(ctx context.Context, fn func() error) error {
	if b == nil || b.sem == nil {
		return fn()
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)
	return fn()
}
