package scheduler

import (
	"context"
	"time"

	"jobkit/internal/jobid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Record is the externally observable snapshot of one job.
//
// Identity is immutable; status and the write-once timestamp/error fields are
// mutated only by the runner under the scheduler's mutex. Callers always
// receive copies.
type Record struct {
	ID          jobid.ID   `json:"id"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorTrace  string     `json:"error_traceback,omitempty"`
	ArtifactID  *jobid.ID  `json:"artifact_id,omitempty"`
}

// Duration returns the run time of a finished job, 0 otherwise.
func (r Record) Duration() time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}

// clone returns a deep copy (pointer fields re-allocated).
func (r Record) clone() Record {
	cp := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.ArtifactID != nil {
		id := *r.ArtifactID
		cp.ArtifactID = &id
	}
	return cp
}

// jobState is the registry's mutable per-job entry. seq preserves exact
// submission order for deterministic listing even when SubmittedAt ties.
type jobState struct {
	rec Record
	seq uint64
}

// handle is the internal cancellable execution handle for one job.
// done is closed by the runner after the terminal transition is visible;
// waiters observe it without owning the job's lifecycle.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Event types published on the bus. Data is always a Record snapshot.
const (
	EventSubmitted = "job.submitted"
	EventStarted   = "job.started"
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
	EventCanceled  = "job.canceled"
	EventDeleted   = "job.deleted"
)
