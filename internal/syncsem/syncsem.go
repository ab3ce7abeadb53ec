// Package syncsem provides a process-wide counting semaphore bounding
// how many folder sync tasks run concurrently across all accounts.
package syncsem

import "context"

// Semaphore is a buffered-channel counting semaphore.
type Semaphore struct {
	c chan struct{}
}

// New returns a Semaphore with capacity n.
func New(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{c: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot.
func (s *Semaphore) Release() {
	select {
	case <-s.c:
	default:
	}
}

// Cap returns the semaphore's capacity.
func (s *Semaphore) Cap() int { return cap(s.c) }
