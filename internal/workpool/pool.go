// Package workpool bounds concurrent language server work.
package workpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent operations using a weighted semaphore. Document
// indexing across resolver calls goes through a shared Pool so a wide file
// hint cannot flood the language server.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that allows at most limit concurrent operations.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Result pairs the output of one item with its error.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Map runs fn for every item through the pool and returns the results in
// input order. A failing item does not stop the others.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) []Result[T, R] {
	results := make([]Result[T, R], len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		results[i].Item = item
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i].Err = p.Run(ctx, func() error {
				v, err := fn(ctx, item)
				results[i].Value = v
				return err
			})
		}()
	}
	wg.Wait()
	return results
}
