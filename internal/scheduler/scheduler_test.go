package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobkit/internal/jobid"
	logx "jobkit/pkg/logx"
)

func newTestScheduler(maxConcurrency int) *Scheduler {
	return New(Config{Name: "test", MaxConcurrency: maxConcurrency}, logx.Nop(), nil)
}

func waitDone(t *testing.T, s *Scheduler, id jobid.ID) {
	t.Helper()
	if err := s.Wait(context.Background(), id, 5*time.Second); err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
}

func TestAddJobRecordImmediatelyVisible(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	release := make(chan struct{})
	id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	rec, err := s.Record(id)
	if err != nil {
		t.Fatalf("Record right after AddJob: %v", err)
	}
	if rec.Status != StatusPending && rec.Status != StatusRunning {
		t.Fatalf("status = %s, want pending or running", rec.Status)
	}
	if rec.SubmittedAt.IsZero() {
		t.Fatal("SubmittedAt not set")
	}

	close(release)
	waitDone(t, s, id)
}

func TestBlockingFuncCompletes(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(Func(func(args ...any) (any, error) {
		return 42, nil
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	st, err := s.Status(id)
	if err != nil || st != StatusCompleted {
		t.Fatalf("Status = %s, %v; want completed", st, err)
	}
	v, err := s.Result(id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if v != 42 {
		t.Fatalf("Result = %v, want 42", v)
	}
}

func TestJobWithArgs(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(Func(func(args ...any) (any, error) {
		sum := 0
		for _, a := range args {
			sum += a.(int)
		}
		return sum, nil
	}), 1, 2, 3)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	v, err := s.Result(id)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if v != 6 {
		t.Fatalf("Result = %v, want 6", v)
	}
}

func TestFailureCapturedAndResurfacedByResult(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(Func(func(args ...any) (any, error) {
		return nil, errors.New("boom")
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	rec, err := s.Record(id)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "boom") {
		t.Fatalf("Error = %q, want it to mention boom", rec.Error)
	}
	if rec.ErrorTrace == "" {
		t.Fatal("ErrorTrace is empty")
	}
	if rec.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}

	_, err = s.Result(id)
	var je *JobError
	if !errors.As(err, &je) {
		t.Fatalf("Result error = %v, want *JobError", err)
	}
	if !strings.Contains(je.Message, "boom") || je.Trace == "" {
		t.Fatalf("JobError = %+v, want boom message and non-empty trace", je)
	}
}

func TestPanicBecomesFailedWithStack(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		panic("kaboom")
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	rec, err := s.Record(id)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "panic") || !strings.Contains(rec.Error, "kaboom") {
		t.Fatalf("Error = %q", rec.Error)
	}
	if !strings.Contains(rec.ErrorTrace, "goroutine") {
		t.Fatalf("ErrorTrace does not look like a stack: %q", rec.ErrorTrace)
	}
}

func TestPanicInBlockingFuncIsIsolated(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(Func(func(args ...any) (any, error) {
		panic(errors.New("deep failure"))
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	rec, _ := s.Record(id)
	if rec.Status != StatusFailed || rec.ErrorTrace == "" {
		t.Fatalf("record = %+v, want failed with stack", rec)
	}
}

func TestCancelRunningJob(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	started := make(chan struct{})
	id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	<-started

	ok, err := s.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatal("Cancel returned false for a running job")
	}

	rec, err := s.Record(id)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Status != StatusCanceled {
		t.Fatalf("status = %s, want canceled", rec.Status)
	}
	if rec.Error != "" || rec.ErrorTrace != "" {
		t.Fatalf("canceled job must not carry error fields, got %q / %q", rec.Error, rec.ErrorTrace)
	}
	if rec.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}
}

func TestCancelTerminalJobReturnsFalse(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(Func(func(args ...any) (any, error) { return "done", nil }))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	ok, err := s.Cancel(context.Background(), id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Fatal("Cancel returned true for a completed job")
	}
	if st, _ := s.Status(id); st != StatusCompleted {
		t.Fatalf("status changed to %s", st)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)
	if _, err := s.Cancel(context.Background(), jobid.NewJob()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesAllState(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	// Terminal job.
	done, err := s.AddJob(Func(func(args ...any) (any, error) { return 1, nil }))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, done)

	// Running job.
	started := make(chan struct{})
	running, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	<-started

	for _, id := range []jobid.ID{done, running} {
		if err := s.Delete(context.Background(), id); err != nil {
			t.Fatalf("Delete(%s): %v", id, err)
		}
		if _, err := s.Record(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Record after delete = %v, want ErrNotFound", err)
		}
		if _, err := s.Result(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Result after delete = %v, want ErrNotFound", err)
		}
	}

	if err := s.Delete(context.Background(), jobid.NewJob()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete unknown = %v, want ErrNotFound", err)
	}
}

func TestConcurrencyCeilingIsRespected(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(2)

	var cur, peak atomic.Int64
	release := make(chan struct{})

	const jobs = 6
	ids := make([]jobid.ID, 0, jobs)
	for i := 0; i < jobs; i++ {
		id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer cur.Add(-1)
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))
		if err != nil {
			t.Fatalf("AddJob: %v", err)
		}
		ids = append(ids, id)
	}

	// Give the runners a moment to saturate the limiter.
	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, id := range ids {
		waitDone(t, s, id)
	}

	if p := peak.Load(); p > 2 {
		t.Fatalf("observed %d concurrent bodies, limit is 2", p)
	}
	for _, id := range ids {
		if st, _ := s.Status(id); st != StatusCompleted {
			t.Fatalf("job %s status = %s", id, st)
		}
	}
}

func TestWaitTimeoutDoesNotCancelJob(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		select {
		case <-time.After(300 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := s.Wait(context.Background(), id, 10*time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("Wait = %v, want ErrWaitTimeout", err)
	}

	// The expired wait must not have affected the job: an unconditional wait
	// still observes its completion.
	waitDone(t, s, id)
	if st, _ := s.Status(id); st != StatusCompleted {
		t.Fatalf("status = %s, want completed", st)
	}
	if v, err := s.Result(id); err != nil || v != "late" {
		t.Fatalf("Result = %v, %v", v, err)
	}
}

func TestWaitUnknownJob(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)
	if err := s.Wait(context.Background(), jobid.NewJob(), 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordsNewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	var ids []jobid.ID
	for i := 0; i < 3; i++ {
		id, err := s.AddJob(Func(func(args ...any) (any, error) { return nil, nil }))
		if err != nil {
			t.Fatalf("AddJob: %v", err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitDone(t, s, id)
	}

	recs := s.Records()
	if len(recs) != 3 {
		t.Fatalf("len(Records) = %d, want 3", len(recs))
	}
	// Submitted A, B, C; expect [C, B, A] regardless of completion order.
	for i := range ids {
		want := ids[len(ids)-1-i]
		if recs[i].ID != want {
			t.Fatalf("Records[%d].ID = %s, want %s", i, recs[i].ID, want)
		}
	}
}

func TestResultNotFinished(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	release := make(chan struct{})
	id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if _, err := s.Result(id); !errors.Is(err, ErrNotFinished) {
		t.Fatalf("Result = %v, want ErrNotFinished", err)
	}
	close(release)
	waitDone(t, s, id)

	if _, err := s.Result(jobid.NewJob()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Result unknown = %v, want ErrNotFound", err)
	}
}

func TestDeferredTarget(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	id, err := s.AddJob(DeferredFunc(func(ctx context.Context) (any, error) {
		return "deferred result", nil
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	v, err := s.Result(id)
	if err != nil || v != "deferred result" {
		t.Fatalf("Result = %v, %v", v, err)
	}
}

func TestDeferredWithArgsFailsLazily(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	// The misuse is reported through the job's own outcome, not at AddJob.
	id, err := s.AddJob(DeferredFunc(func(ctx context.Context) (any, error) {
		return nil, nil
	}), "unexpected")
	if err != nil {
		t.Fatalf("AddJob returned synchronous error: %v", err)
	}
	waitDone(t, s, id)

	rec, _ := s.Record(id)
	if rec.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "deferred") {
		t.Fatalf("Error = %q", rec.Error)
	}
}

func TestInvalidTargetRejectedSynchronously(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	if _, err := s.AddJob(nil); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("AddJob(nil) = %v, want ErrInvalidTarget", err)
	}
	if _, err := s.AddJob("not a callable"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("AddJob(string) = %v, want ErrInvalidTarget", err)
	}
}

func TestArtifactCorrelation(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	artifact := jobid.NewArtifact()
	id, err := s.AddJob(Func(func(args ...any) (any, error) {
		return artifact, nil
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, id)

	rec, _ := s.Record(id)
	if rec.ArtifactID == nil || *rec.ArtifactID != artifact {
		t.Fatalf("ArtifactID = %v, want %s", rec.ArtifactID, artifact)
	}
	if v, err := s.Result(id); err != nil || v != artifact {
		t.Fatalf("Result = %v, %v", v, err)
	}
}

func TestSetMaxConcurrencyKeepsInFlightPermits(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(1)

	started := make(chan struct{})
	release := make(chan struct{})
	first, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		close(started)
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	<-started

	// Swap the limiter while the first job holds an old permit. The next job
	// must start under the new limiter without waiting for the old slot.
	s.SetMaxConcurrency(4)

	second, err := s.AddJob(Func(func(args ...any) (any, error) { return nil, nil }))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	waitDone(t, s, second)

	close(release)
	waitDone(t, s, first)
	if st, _ := s.Status(first); st != StatusCompleted {
		t.Fatalf("first job status = %s", st)
	}
}

func TestCloseCancelsLiveJobs(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(0)

	started := make(chan struct{})
	id, err := s.AddJob(CtxFunc(func(ctx context.Context, args ...any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	<-started

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st, _ := s.Status(id); st != StatusCanceled {
		t.Fatalf("status after close = %s, want canceled", st)
	}
	if _, err := s.AddJob(Func(func(args ...any) (any, error) { return nil, nil })); !errors.Is(err, ErrClosed) {
		t.Fatalf("AddJob after close = %v, want ErrClosed", err)
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()
	for _, st := range []Status{StatusCompleted, StatusFailed, StatusCanceled} {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusRunning} {
		if st.Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
	if Status("bogus").Valid() {
		t.Fatal("bogus status reported valid")
	}
}
