// Package httpapi exposes the scheduler over HTTP: submit registered tasks,
// inspect and cancel jobs, fetch results, and follow a job to completion via
// server-sent events. It is a thin translation layer; all semantics live in
// the scheduler package.
package httpapi
