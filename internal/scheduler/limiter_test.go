package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNilLimiterIsUnbounded(t *testing.T) {
	t.Parallel()
	var l *limiter // newLimiter(0) returns nil
	if got := newLimiter(0); got != nil {
		t.Fatalf("newLimiter(0) = %v, want nil", got)
	}
	for i := 0; i < 100; i++ {
		if err := l.acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	l.release() // must not panic
}

func TestLimiterBlocksAtCapacity(t *testing.T) {
	t.Parallel()
	l := newLimiter(2)
	ctx := context.Background()

	if err := l.acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.acquire(blocked); err == nil {
		t.Fatal("third acquire should block until ctx expiry")
	}

	l.release()
	ok, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	if err := l.acquire(ok); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLimiterReleaseNeverBlocks(t *testing.T) {
	t.Parallel()
	l := newLimiter(1)
	// Unbalanced releases are swallowed.
	l.release()
	l.release()
	if err := l.acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}
