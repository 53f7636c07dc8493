package scheduler

import "context"

// limiter is a channel semaphore bounding how many job bodies run at once.
// A nil *limiter means unbounded.
//
// Acquire blocks until a slot frees or ctx is canceled; release never blocks.
// The scheduler swaps limiters on reconfiguration: every runner releases the
// exact limiter instance it acquired from, so permits held under an old
// limiter stay valid until released and no job loses its slot mid-flight.
type limiter struct {
	ch chan struct{}
}

func newLimiter(maxN int) *limiter {
	if maxN <= 0 {
		return nil
	}
	return &limiter{ch: make(chan struct{}, maxN)}
}

func (l *limiter) acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limiter) release() {
	if l == nil {
		return
	}
	select {
	case <-l.ch:
	default:
		// Unbalanced release is a programming error; never block on it.
	}
}
