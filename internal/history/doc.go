// Package history persists an append-only log of finished jobs.
//
// It is observability output, not scheduler state: the scheduler never reads
// it back, and losing it affects nothing but operator hindsight. Entries are
// fed from the event bus by a Recorder and written by the configured store
// (currently SQLite, or disabled).
package history
