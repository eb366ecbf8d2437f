package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of handler tasks running at once across all
// executions.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool of size workers. Size <= 0 uses runtime.NumCPU.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

func (p *Pool) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *Pool) release() {
	p.sem.Release(1)
}
