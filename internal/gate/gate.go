// Package gate bounds the number of in-flight job-creation calls. Acquisition
// is wake-driven through a weighted semaphore with FIFO waiters, not a
// spin-poll over an in-flight set.
package gate

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

const DefaultCapacity = 10

// Gate is a bounded counting permit set. Acquire suspends the caller until a
// permit frees up; Release returns one. Drain acquires the full capacity so a
// stopping dispatcher can wait out every outstanding creation call.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
}

func New(capacity int) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate capacity must be positive (got %d)", capacity)
	}

	return &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}, nil
}

func (g *Gate) Capacity() int { return int(g.capacity) }

func (g *Gate) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire grabs a permit without blocking.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

func (g *Gate) Release() {
	g.sem.Release(1)
}

// Drain blocks until every permit is free, then hands them all back. Callers
// use it to wait for in-flight work during shutdown.
func (g *Gate) Drain(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.sem.Acquire(ctx, g.capacity); err != nil {
		return err
	}
	g.sem.Release(g.capacity)
	return nil
}
