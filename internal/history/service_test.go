package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"jobkit/internal/eventbus"
	"jobkit/internal/jobid"
	"jobkit/internal/scheduler"
	logx "jobkit/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorderPersistsTerminalEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	store := &memStore{}

	rec := NewRecorder(store, bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.Start(ctx)
	defer rec.Stop(context.Background())

	id := jobid.NewJob()
	now := time.Now().UTC()
	started := now.Add(5 * time.Millisecond)
	finished := now.Add(25 * time.Millisecond)
	art := jobid.NewArtifact()

	r := scheduler.Record{
		ID:          id,
		Status:      scheduler.StatusCompleted,
		SubmittedAt: now,
		StartedAt:   &started,
		FinishedAt:  &finished,
		ArtifactID:  &art,
	}

	// Non-terminal events must be ignored.
	bus.Publish(eventbus.Event{Type: scheduler.EventSubmitted, Data: r})
	bus.Publish(eventbus.Event{Type: scheduler.EventStarted, Data: r})
	bus.Publish(eventbus.Event{Type: scheduler.EventCompleted, Data: r})

	deadline := time.After(2 * time.Second)
	for store.len() == 0 {
		select {
		case <-deadline:
			t.Fatal("recorder never persisted the completed event")
		case <-time.After(5 * time.Millisecond):
		}
	}

	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.JobID != id.String() {
		t.Errorf("JobID = %q, want %q", e.JobID, id.String())
	}
	if e.Status != string(scheduler.StatusCompleted) {
		t.Errorf("Status = %q", e.Status)
	}
	if e.ArtifactID != art.String() {
		t.Errorf("ArtifactID = %q, want %q", e.ArtifactID, art.String())
	}
	if e.TookMS != 20 {
		t.Errorf("TookMS = %d, want 20", e.TookMS)
	}
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()

	rec := NewRecorder(&memStore{}, bus, logx.Nop())
	rec.Start(context.Background())
	rec.Stop(context.Background())
	rec.Stop(context.Background())
}
