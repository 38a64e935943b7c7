package cache

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// semaphoreExecutor is the default Executor: it runs each submitted task on
// its own goroutine, bounded to a fixed number of concurrently in-flight
// tasks via a weighted semaphore, mirroring the bounded-parallelism style
// the corpus uses for background work.
type semaphoreExecutor struct {
	sem *semaphore.Weighted
}

func newSemaphoreExecutor(parallelism int) *semaphoreExecutor {
	return &semaphoreExecutor{sem: semaphore.NewWeighted(int64(parallelism))}
}

// Submit runs fn on a new goroutine once a slot is free. Acquire uses
// context.Background because background cache maintenance has no
// deadline of its own; the caller isn't waiting on it.
func (e *semaphoreExecutor) Submit(fn func()) {
	if err := e.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	go func() {
		defer e.sem.Release(1)
		fn()
	}()
}

// inlineExecutor runs every task synchronously on the submitting goroutine.
// Useful for tests that need deterministic ordering.
type inlineExecutor struct{}

func (inlineExecutor) Submit(fn func()) { fn() }
