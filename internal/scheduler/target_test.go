package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeAcceptsUnnamedFuncTypes(t *testing.T) {
	t.Parallel()

	// Plain function values (not the named Func/CtxFunc types) must work too.
	blocking := func(args ...any) (any, error) { return len(args), nil }
	ctxAware := func(ctx context.Context, args ...any) (any, error) { return len(args), nil }

	for _, tc := range []struct {
		name   string
		target any
	}{
		{"unnamed blocking", blocking},
		{"unnamed ctx-aware", ctxAware},
		{"named blocking", Func(blocking)},
		{"named ctx-aware", CtxFunc(ctxAware)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			run, err := normalize(tc.target, []any{"a", "b"})
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			v, err := run(context.Background())
			if err != nil {
				t.Fatalf("thunk: %v", err)
			}
			if v != 2 {
				t.Fatalf("thunk = %v, want 2", v)
			}
		})
	}
}

func TestNormalizeRejectsUnknownTypes(t *testing.T) {
	t.Parallel()
	for _, target := range []any{nil, 42, "text", struct{}{}, func() {}} {
		if _, err := normalize(target, nil); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("normalize(%T) = %v, want ErrInvalidTarget", target, err)
		}
	}
}

func TestDeferredArgsThunkFails(t *testing.T) {
	t.Parallel()
	run, err := normalize(DeferredFunc(func(ctx context.Context) (any, error) {
		return "never", nil
	}), []any{1})
	if err != nil {
		t.Fatalf("normalize must defer the misuse, got %v", err)
	}
	if _, err := run(context.Background()); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("thunk = %v, want ErrInvalidTarget", err)
	}
}

func TestCallBlockingObservesCancellation(t *testing.T) {
	t.Parallel()

	bodyDone := make(chan struct{})
	slow := Func(func(args ...any) (any, error) {
		defer close(bodyDone)
		time.Sleep(100 * time.Millisecond)
		return "slow", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := callBlocking(ctx, slow, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 80*time.Millisecond {
		t.Fatal("callBlocking did not return promptly on cancellation")
	}
	// The abandoned body still runs to completion on its own goroutine.
	<-bodyDone
}
