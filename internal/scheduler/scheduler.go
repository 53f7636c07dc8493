package scheduler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"jobkit/internal/eventbus"
	"jobkit/internal/jobid"
	logx "jobkit/pkg/logx"
)

// Config controls a Scheduler instance.
type Config struct {
	// Name tags log lines when a process hosts several schedulers.
	Name string
	// MaxConcurrency caps simultaneously running job bodies.
	// Zero or negative means unbounded.
	MaxConcurrency int
}

// Scheduler owns all id-keyed job state under one mutex and exposes the
// public operations. The zero value is not usable; construct with New.
type Scheduler struct {
	mu sync.Mutex

	log  logx.Logger
	bus  eventbus.Bus
	name string

	records map[jobid.ID]*jobState
	results map[jobid.ID]any
	handles map[jobid.ID]*handle

	lim *limiter

	seq    atomic.Uint64
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup
}

// New creates a scheduler. bus may be nil (no events published).
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := cfg.Name
	if name == "" {
		name = "jobkit"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:     log.With(logx.String("scheduler", name)),
		bus:     bus,
		name:    name,
		records: map[jobid.ID]*jobState{},
		results: map[jobid.ID]any{},
		handles: map[jobid.ID]*handle{},
		lim:     newLimiter(cfg.MaxConcurrency),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// AddJob normalizes the target, inserts a pending record under a fresh ID,
// and launches the runner. It returns before the body runs.
//
// Accepted targets: Func, CtxFunc, Deferred (or their underlying unnamed
// function types). args bind to callables only; pairing args with a Deferred
// produces a failed job rather than a synchronous error.
func (s *Scheduler) AddJob(target any, args ...any) (jobid.ID, error) {
	run, err := normalize(target, args)
	if err != nil {
		return jobid.Nil, err
	}

	id := jobid.NewJob()
	now := time.Now().UTC()
	jctx, jcancel := context.WithCancel(s.baseCtx)
	h := &handle{cancel: jcancel, done: make(chan struct{})}
	rec := Record{ID: id, Status: StatusPending, SubmittedAt: now}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		jcancel()
		return jobid.Nil, ErrClosed
	}
	// Defensive: TypeID collisions are effectively unreachable.
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		jcancel()
		return jobid.Nil, ErrAlreadyScheduled
	}
	s.records[id] = &jobState{rec: rec, seq: s.seq.Add(1)}
	s.handles[id] = h
	s.jobs.Add(1)
	s.mu.Unlock()

	s.log.Debug("job submitted", logx.String("job", id.String()))
	s.publish(EventSubmitted, rec)

	go s.run(id, jctx, run, h)
	return id, nil
}

// Status returns the job's current lifecycle state.
func (s *Scheduler) Status(id jobid.ID) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.records[id]
	if !ok {
		return "", ErrNotFound
	}
	return st.rec.Status, nil
}

// Record returns a point-in-time snapshot of the job.
func (s *Scheduler) Record(id jobid.ID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return st.rec.clone(), nil
}

// Records returns snapshots of all jobs, most recently submitted first.
// The submission sequence breaks timestamp ties, so the order is
// deterministic under concurrent mutation.
func (s *Scheduler) Records() []Record {
	s.mu.Lock()
	states := make([]*jobState, 0, len(s.records))
	for _, st := range s.records {
		states = append(states, st)
	}
	recs := make([]Record, len(states))
	seqs := make([]uint64, len(states))
	for i, st := range states {
		recs[i] = st.rec.clone()
		seqs[i] = st.seq
	}
	s.mu.Unlock()

	order := make([]int, len(recs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ra, rb := recs[order[a]], recs[order[b]]
		if !ra.SubmittedAt.Equal(rb.SubmittedAt) {
			return ra.SubmittedAt.After(rb.SubmittedAt)
		}
		return seqs[order[a]] > seqs[order[b]]
	})
	out := make([]Record, len(recs))
	for i, idx := range order {
		out[i] = recs[idx]
	}
	return out
}

// Cancel requests cooperative cancellation and waits (bounded by ctx) for
// the runner to observe it. It returns false without error when the job is
// already terminal.
func (s *Scheduler) Cancel(ctx context.Context, id jobid.ID) (bool, error) {
	s.mu.Lock()
	st, ok := s.records[id]
	h := s.handles[id]
	if !ok {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	if st.rec.Status.Terminal() || h == nil {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return true, nil
}

// Delete best-effort-cancels the job (ignoring the cancellation's own
// outcome), then removes its record, result, and handle.
func (s *Scheduler) Delete(ctx context.Context, id jobid.ID) error {
	s.mu.Lock()
	st, ok := s.records[id]
	h := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if h != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			// Best effort; remove the state anyway.
		}
	}

	s.mu.Lock()
	rec := st.rec.clone()
	delete(s.records, id)
	delete(s.results, id)
	delete(s.handles, id)
	s.mu.Unlock()

	s.log.Debug("job deleted", logx.String("job", id.String()))
	s.publish(EventDeleted, rec)
	return nil
}

// Wait blocks the caller until the job reaches a terminal state, the timeout
// expires (ErrWaitTimeout), or ctx is canceled. timeout <= 0 means no
// deadline. Waiting observes the job through a non-owning done channel:
// abandoning or repeating waits never cancels the job, and a later Wait
// still sees its eventual completion.
func (s *Scheduler) Wait(ctx context.Context, id jobid.ID, timeout time.Duration) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-h.done:
			return nil
		case <-timer.C:
			return ErrWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the stored value of a completed job. A failed job's
// captured failure is re-surfaced here, and only here, as a *JobError.
// Pending, running, and canceled jobs yield ErrNotFinished.
func (s *Scheduler) Result(id jobid.ID) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch st.rec.Status {
	case StatusCompleted:
		return s.results[id], nil
	case StatusFailed:
		return nil, &JobError{Message: st.rec.Error, Trace: st.rec.ErrorTrace}
	default:
		return nil, ErrNotFinished
	}
}

// SetMaxConcurrency swaps in a fresh limiter. Jobs that start after the call
// use the new limit; permits held (or waited on) under the old limiter are
// unaffected. n <= 0 removes the cap.
func (s *Scheduler) SetMaxConcurrency(n int) {
	s.mu.Lock()
	s.lim = newLimiter(n)
	s.mu.Unlock()
	s.log.Debug("max concurrency updated", logx.Int("max", n))
}

// Close cancels every live job and waits for all runners to finish, bounded
// by ctx. Further AddJob calls fail with ErrClosed; read operations keep
// working on the remaining records.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) limiterRef() *limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lim
}

func (s *Scheduler) publish(typ string, rec Record) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: rec})
}
