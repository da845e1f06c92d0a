package pop3pool

import "context"

// semaphore is a convenience wrapper for a channel that implements
// semaphore-kind synchronization. Go's runtime services blocked
// channel senders in the order they started waiting, which is what
// gives the pool's over-cap callers their FIFO wake order (§5, §8
// property 6) for free.
//
// If the argument given to newSemaphore is negative or zero,
// all methods are no-op.
type semaphore struct {
	c chan struct{}
}

func newSemaphore(max int) semaphore {
	if max < 0 {
		max = 0
	}
	return semaphore{c: make(chan struct{}, max)}
}

func (s semaphore) Take() {
	if cap(s.c) <= 0 {
		return
	}
	s.c <- struct{}{}
}

func (s semaphore) TakeContext(ctx context.Context) error {
	if cap(s.c) <= 0 {
		return nil
	}
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s semaphore) Release() {
	if cap(s.c) <= 0 {
		return
	}
	select {
	case <-s.c:
	default:
		panic("pop3pool: mismatched release call")
	}
}
