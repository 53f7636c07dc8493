// Package scheduler is jobkit's in-process background job scheduler.
//
// # Overview
//
// A Scheduler accepts heterogeneous units of work (blocking callables,
// context-aware callables, or pre-built deferred computations), runs each on
// its own goroutine under an optional concurrency ceiling, and tracks it
// through a strict lifecycle:
//
//	pending -> running -> {completed | failed | canceled}
//
// Submission returns an opaque, sortable job ID before the body runs.
// Callers observe progress by polling Record/Status, block with Wait, and
// collect the outcome with Result. A failing job is a successful scheduling
// outcome: its panic or error is captured into the record and only
// re-surfaced when Result is called.
//
// # Concurrency
//
// All id-keyed state (records, results, handles) lives behind one mutex.
// The concurrency limiter is a channel semaphore acquired before a body
// starts running and released exactly once on every exit path. Swapping the
// limit at runtime never invalidates permits already held.
//
// # Cancellation
//
// Cancellation is cooperative: each job owns a context canceled by
// Cancel/Delete/Close. Context-aware bodies observe it directly; blocking
// bodies are abandoned (their result discarded) once their context is
// canceled. Wait observes a job through a non-owning done channel, so an
// abandoned or timed-out waiter never affects the job itself.
package scheduler
