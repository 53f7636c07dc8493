// Package schedule triggers recurring job submissions.
//
// It is a thin layer over the core scheduler: a named entry pairs a schedule
// string with a registered task, and every fire submits one job through the
// scheduler's public AddJob. The layer owns no execution state; overlap,
// concurrency, and failure capture are entirely the scheduler's business.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with
//     optional seconds. Example: "55 * * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: a compact duration format where "00:50" means every 50
//     minutes and "02:30" means every 2 hours 30 minutes.
//
// To force interpretation, callers may prefix the string with "cron:",
// "interval:", or "every:".
//
// # Lifecycle
//
// The Service can be started/stopped at runtime (e.g. via config hot
// reload). Upserting entries while stopped is supported: definitions are
// stored and registered on the next Start.
package schedule
