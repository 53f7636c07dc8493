package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrNotFinished      = errors.New("job not finished")
	ErrAlreadyScheduled = errors.New("job already scheduled")
	ErrWaitTimeout      = errors.New("wait timed out")
	ErrInvalidTarget    = errors.New("invalid job target")
	ErrClosed           = errors.New("scheduler closed")
)

// JobError is the captured failure of a job body, re-surfaced by Result.
//
// It is deliberately opaque to the scheduler's own error taxonomy: Message is
// the short summary stored in the record's Error field, Trace the full
// diagnostic text (error chain or panic stack).
type JobError struct {
	Message string
	Trace   string
}

func (e *JobError) Error() string { return e.Message }

// panicError carries a recovered panic value plus the goroutine stack at the
// point of recovery, so the runner can distinguish panics from error returns.
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
