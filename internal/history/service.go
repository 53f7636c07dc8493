package history

import (
	"context"
	"time"

	"jobkit/internal/eventbus"
	"jobkit/internal/scheduler"
	logx "jobkit/pkg/logx"
)

// Recorder drains terminal job events off the bus into the store.
//
// It is deliberately lossy under backpressure (the bus drops for slow
// subscribers); the scheduler's own records remain the source of truth for
// live jobs.
type Recorder struct {
	log   logx.Logger
	bus   eventbus.Bus
	store Store

	stop func()
	done chan struct{}
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{log: log, bus: bus, store: store}
}

// Start subscribes to the bus and begins persisting terminal events.
// It is a no-op when the store or bus is absent.
func (r *Recorder) Start(ctx context.Context) {
	if r.store == nil || r.bus == nil || r.stop != nil {
		return
	}
	ch, unsub := r.bus.Subscribe(64)
	r.stop = unsub
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.handle(ev)
			}
		}
	}()
	r.log.Debug("history recorder started")
}

// Stop unsubscribes and waits for the drain goroutine to exit.
func (r *Recorder) Stop(ctx context.Context) {
	if r.stop == nil {
		return
	}
	r.stop()
	r.stop = nil
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

func (r *Recorder) handle(ev eventbus.Event) {
	switch ev.Type {
	case scheduler.EventCompleted, scheduler.EventFailed, scheduler.EventCanceled:
	default:
		return
	}
	rec, ok := ev.Data.(scheduler.Record)
	if !ok {
		return
	}

	e := Entry{
		JobID:       rec.ID.String(),
		Status:      string(rec.Status),
		SubmittedAt: rec.SubmittedAt,
		TookMS:      rec.Duration().Milliseconds(),
		Error:       rec.Error,
	}
	if rec.StartedAt != nil {
		e.StartedAt = *rec.StartedAt
	}
	if rec.FinishedAt != nil {
		e.FinishedAt = *rec.FinishedAt
	}
	if rec.ArtifactID != nil {
		e.ArtifactID = rec.ArtifactID.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.Append(ctx, e); err != nil {
		r.log.Warn("history append failed", logx.String("job", e.JobID), logx.Err(err))
	}
}
