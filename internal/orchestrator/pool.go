package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Pool runs work items on a fixed set of workers.
type Pool interface {
	// Dispatch hands each item to fn on at most Size() concurrent workers.
	// It stops handing out items once ctx is done, waits for running items,
	// and returns the items that were never handed out.
	Dispatch(ctx context.Context, items []string, fn func(item string)) []string
	Size() int
}

// PoolFactory builds a pool of the given size.
type PoolFactory func(size int) (Pool, error)

// PoolCreationError reports that the worker pool could not be built.
// No task is started and no event is published when it is returned.
type PoolCreationError struct {
	Size int
	Err  error
}

func (e *PoolCreationError) Error() string {
	return fmt.Sprintf("create worker pool of size %d: %v", e.Size, e.Err)
}

func (e *PoolCreationError) Unwrap() error {
	return e.Err
}

// NewWorkerPool returns a fixed-size goroutine pool.
func NewWorkerPool(size int) (Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	return &workerPool{size: size}, nil
}

type workerPool struct {
	size int
}

func (p *workerPool) Size() int {
	return p.size
}

func (p *workerPool) Dispatch(ctx context.Context, items []string, fn func(item string)) []string {
	jobs := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				fn(item)
			}
		}()
	}

	var undispatched []string
dispatch:
	for i, item := range items {
		if ctx.Err() != nil {
			undispatched = items[i:]
			break
		}
		select {
		case <-ctx.Done():
			undispatched = items[i:]
			break dispatch
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	return undispatched
}
