// Package workpool provides a bounded, joinable pool for short-lived
// administrative work (camera add/remove side effects, per-request
// callbacks) so that no goroutine is ever detached (spec.md §5, §9:
// "Detached worker threads in the source"). Grounded on
// golang.org/x/sync/semaphore for the concurrency bound and
// golang.org/x/sync/errgroup for join semantics, both already present in
// the teacher's indirect dependency set.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool dispatches bounded concurrent work and can be waited on as a unit.
type Pool struct {
	sem *semaphore.Weighted
	eg  *errgroup.Group
	ctx context.Context
}

// New creates a pool that runs at most maxConcurrent tasks at once.
func New(ctx context.Context, maxConcurrent int64) *Pool {
	eg, egCtx := errgroup.WithContext(ctx)
	return &Pool{
		sem: semaphore.NewWeighted(maxConcurrent),
		eg:  eg,
		ctx: egCtx,
	}
}

// Submit runs fn once a slot is free. It blocks the caller only long
// enough to acquire the slot, not for the task's duration. Submit never
// detaches fn: the pool's Wait joins it.
func (p *Pool) Submit(fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return fmt.Errorf("workpool: acquire slot: %w", err)
	}
	p.eg.Go(func() error {
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
	return nil
}

// Wait joins every submitted task and returns the first error, if any.
func (p *Pool) Wait() error {
	return p.eg.Wait()
}
