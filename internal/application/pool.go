package application

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrent snapshot fetches across all projects.
type Pool struct {
	sem *semaphore.Weighted
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context ends
// while waiting.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	return fn(ctx)
}
