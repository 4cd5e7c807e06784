// Package concurrency implements the global cap on outstanding network fetches.
package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when a non-positive size is configured.
const DefaultSize = 3

// Limiter is a counting semaphore shared by every fetch in the process.
type Limiter struct {
	sem    *semaphore.Weighted
	size   int64
	active atomic.Int64
	peak   atomic.Int64
}

// New returns a Limiter with size slots.
func New(size int) *Limiter {
	if size <= 0 {
		size = DefaultSize
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Acquire blocks until a slot is free or ctx ends. The returned release func
// must be called exactly once; extra calls are ignored.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return func() {}, fmt.Errorf("acquire fetch slot: %w", err)
	}
	n := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if n <= peak || l.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Add(-1)
			l.sem.Release(1)
		})
	}, nil
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	return int(l.size)
}

// Active returns the number of slots currently held.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Peak returns the highest number of slots ever held at once.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}
