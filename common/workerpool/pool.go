// Package workerpool is a small bounded-concurrency worker pool,
// grounded on the teacher repository's own fetchPool usage
// (worker/storage/committee/node.go: n.fetchPool.Submit(func() {...})).
// It backs the pin engine's remote-pin parallelism (spec.md §4.2 step 5,
// Config.MaxIOOperations): a session holds one Pool, shared by all of
// its pin calls.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many submitted functions run concurrently.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New returns a Pool that runs at most size functions concurrently.
// size < 1 is treated as 1.
func New(size int64) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// Submit blocks until a slot is free or ctx is done, then launches fn
// in its own goroutine and returns. It does not wait for fn to finish;
// call Wait for that.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Wait blocks until every function submitted so far has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
