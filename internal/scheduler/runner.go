package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"jobkit/internal/jobid"
	logx "jobkit/pkg/logx"
)

// run drives one job's state machine on its own goroutine:
// acquire a permit, pending->running, execute, terminal transition.
// A body's panic or error never escapes; the permit is released exactly
// once on every path.
func (s *Scheduler) run(id jobid.ID, jctx context.Context, run thunk, h *handle) {
	defer s.jobs.Done()
	defer close(h.done)

	// The limiter current at run time, not submission time: a job that waits
	// out a reconfiguration still releases the instance it acquired from.
	lim := s.limiterRef()
	if err := lim.acquire(jctx); err != nil {
		// Canceled while waiting for a slot: the body never ran.
		s.finishCanceled(id)
		return
	}
	defer lim.release()

	s.markRunning(id)
	start := time.Now()

	v, err := s.invoke(jctx, run)
	switch {
	case err == nil:
		s.finishCompleted(id, v)
		s.log.Debug("job completed", logx.String("job", id.String()), logx.Duration("dur", time.Since(start)))
	case jctx.Err() != nil && errors.Is(err, context.Canceled):
		s.finishCanceled(id)
		s.log.Debug("job canceled", logx.String("job", id.String()), logx.Duration("dur", time.Since(start)))
	default:
		msg, trace := describeFailure(err)
		s.finishFailed(id, msg, trace)
		s.log.Warn("job failed", logx.String("job", id.String()), logx.String("err", msg), logx.Duration("dur", time.Since(start)))
	}
}

// invoke calls the thunk with panic isolation. A panicking body is reported
// as a panicError so the failure records the stack, not a crash.
func (s *Scheduler) invoke(ctx context.Context, run thunk) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return run(ctx)
}

// describeFailure splits an execution error into the short summary kept in
// Record.Error and the full diagnostic text kept in Record.ErrorTrace.
func describeFailure(err error) (msg, trace string) {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.Error(), pe.stack
	}
	return err.Error(), fmt.Sprintf("%+v", err)
}

func (s *Scheduler) markRunning(id jobid.ID) {
	now := time.Now().UTC()
	s.mu.Lock()
	st, ok := s.records[id]
	if !ok {
		// Deleted mid-flight; nothing to update.
		s.mu.Unlock()
		return
	}
	st.rec.Status = StatusRunning
	st.rec.StartedAt = &now
	rec := st.rec.clone()
	s.mu.Unlock()
	s.publish(EventStarted, rec)
}

func (s *Scheduler) finishCompleted(id jobid.ID, result any) {
	now := time.Now().UTC()
	s.mu.Lock()
	st, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.rec.Status = StatusCompleted
	st.rec.FinishedAt = &now
	// A result that is itself an identifier is treated as the correlation id
	// of whatever the job produced.
	if artifact, isID := result.(jobid.ID); isID && !artifact.IsNil() {
		st.rec.ArtifactID = &artifact
	}
	s.results[id] = result
	rec := st.rec.clone()
	s.mu.Unlock()
	s.publish(EventCompleted, rec)
}

func (s *Scheduler) finishCanceled(id jobid.ID) {
	now := time.Now().UTC()
	s.mu.Lock()
	st, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.rec.Status = StatusCanceled
	st.rec.FinishedAt = &now
	rec := st.rec.clone()
	s.mu.Unlock()
	s.publish(EventCanceled, rec)
}

func (s *Scheduler) finishFailed(id jobid.ID, msg, trace string) {
	now := time.Now().UTC()
	s.mu.Lock()
	st, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.rec.Status = StatusFailed
	st.rec.FinishedAt = &now
	st.rec.Error = msg
	st.rec.ErrorTrace = trace
	rec := st.rec.clone()
	s.mu.Unlock()
	s.publish(EventFailed, rec)
}
