package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
)

// The three job-target shapes. AddJob accepts any of them (named or not) and
// normalizes the target once, at submission, into a single thunk.

// Func is a blocking callable. It runs on its own goroutine; the scheduler
// observes cancellation even though the body cannot be interrupted (the body
// keeps running and its outcome is discarded).
type Func func(args ...any) (any, error)

// CtxFunc is a context-aware callable. It must honor ctx for cooperative
// cancellation.
type CtxFunc func(ctx context.Context, args ...any) (any, error)

// Deferred is a pre-built deferred computation. It carries its own inputs;
// pairing it with extra arguments is a misuse that surfaces as a failed job
// when the runner first evaluates it (lazy validation, matching the
// submission-never-fails contract).
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

// DeferredFunc adapts a plain function to Deferred.
type DeferredFunc func(ctx context.Context) (any, error)

func (f DeferredFunc) Await(ctx context.Context) (any, error) { return f(ctx) }

// thunk is the single uniform execution shape every target normalizes to.
type thunk func(ctx context.Context) (any, error)

// normalize adapts the heterogeneous target into a thunk. Unknown target
// types are a synchronous error; the deferred-with-args misuse is deferred
// into the thunk itself.
func normalize(target any, args []any) (thunk, error) {
	switch t := target.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrInvalidTarget)
	case Func:
		return func(ctx context.Context) (any, error) { return callBlocking(ctx, t, args) }, nil
	case func(args ...any) (any, error):
		return func(ctx context.Context) (any, error) { return callBlocking(ctx, t, args) }, nil
	case CtxFunc:
		return func(ctx context.Context) (any, error) { return t(ctx, args...) }, nil
	case func(ctx context.Context, args ...any) (any, error):
		return func(ctx context.Context) (any, error) { return t(ctx, args...) }, nil
	case Deferred:
		if len(args) > 0 {
			return func(context.Context) (any, error) {
				return nil, fmt.Errorf("%w: args not supported with a deferred computation", ErrInvalidTarget)
			}, nil
		}
		return t.Await, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidTarget, target)
	}
}

// callBlocking runs a blocking body on its own goroutine and returns either
// its outcome or ctx's error, whichever comes first. The extra goroutine is
// what keeps a canceled job from pinning its waiter: the body may keep
// running, but nobody is listening anymore.
func callBlocking(ctx context.Context, f Func, args []any) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &panicError{value: r, stack: string(debug.Stack())}}
			}
		}()
		v, err := f(args...)
		ch <- outcome{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		return o.v, o.err
	}
}
