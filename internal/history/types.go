package history

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the history store.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one finished job. Keep it compact and schema-stable.
type Entry struct {
	JobID       string
	Status      string
	SubmittedAt time.Time
	StartedAt   time.Time // zero if the body never started
	FinishedAt  time.Time
	TookMS      int64
	Error       string
	ArtifactID  string
}
