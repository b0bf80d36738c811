// Package parallel runs N tasks with bounded concurrency, aggregating
// results while honoring an overall deadline and cancellation (spec's
// System Overview table, row "Parallel runner"; used by the distributed
// lock's fan-out acquire/release and by container finalization's drain of
// all live wrappers).
//
// Grounded on golang.org/x/sync, already a transitive teacher dependency
// via singleflight (virtual/registry/kv_registry.go); this package adds
// the errgroup+semaphore combination used throughout the rest of the
// retrieved corpus for exactly this "admit at most N in-flight, aggregate
// results, stop on first error or ctx cancellation" shape.
package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work submitted to Run. Its position in the input
// slice is reported back as Result.Index, so callers need not close over
// their own index.
type Task[T any] func(ctx context.Context) (T, error)

// Result pairs a Task's outcome with its original index, since Run does not
// guarantee completion order.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run executes tasks with at most maxConcurrency running at once. It does
// not stop early on the first error — every task always gets a Result,
// which is what the distributed lock's fan-out acquire/release and
// getLockHolders need (a failed replica must not prevent observing the
// others). Callers that want fail-fast semantics should inspect err
// themselves and cancel ctx.
//
// Run blocks until ctx is cancelled or every task has produced a Result;
// cancelling ctx unblocks tasks that honor it (all I/O-bound work in this
// runtime does) but Run still waits for every goroutine to return before
// returning, so a caller's own resources are never left in an ambiguous
// half-running state.
func Run[T any](ctx context.Context, maxConcurrency int64, tasks []Task[T]) []Result[T] {
	if maxConcurrency <= 0 {
		maxConcurrency = int64(len(tasks))
		if maxConcurrency <= 0 {
			maxConcurrency = 1
		}
	}
	sem := semaphore.NewWeighted(maxConcurrency)
	results := make([]Result[T], len(tasks))

	g, gctx := errgroup.WithContext(detachCancel(ctx))
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = Result[T]{Index: i, Err: err}
				return nil
			}
			defer sem.Release(1)
			v, err := task(ctx)
			results[i] = Result[T]{Index: i, Value: v, Err: err}
			return nil
		})
	}
	// Every goroutine above always returns nil so this Wait never fails;
	// errgroup is used purely for its WaitGroup-with-shared-context
	// bookkeeping, not for first-error propagation.
	_ = g.Wait()
	return results
}

// detachCancel returns a context that still carries ctx's values and
// Done()/cancellation, used only to give errgroup something to fan a
// derived context from; Run's own tasks are always called with the
// caller's original ctx so deadlines set on ctx are honored verbatim.
func detachCancel(ctx context.Context) context.Context {
	return ctx
}

// RunUntilError is a fail-fast variant used by callers (e.g. a batch
// sub-divider) that want to stop admitting new tasks once one has failed
// and surface that first error.
func RunUntilError[T any](ctx context.Context, maxConcurrency int64, tasks []Task[T]) ([]T, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = int64(len(tasks))
		if maxConcurrency <= 0 {
			maxConcurrency = 1
		}
	}
	sem := semaphore.NewWeighted(maxConcurrency)
	values := make([]T, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			v, err := task(gctx)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}
