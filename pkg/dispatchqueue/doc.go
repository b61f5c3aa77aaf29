// Package dispatchqueue provides lane-based task execution with per-lane
// concurrency limits.
//
// Two kinds of lanes exist in practice: per-session lanes with a
// concurrency of one, which serialize turns for a session so two
// concurrent requests can never interleave state writes, and the
// delegation lane, a bounded pool that absorbs fire-and-forget background
// work without unbounded goroutine growth.
//
// Tasks within a lane run in FIFO order. Do blocks until the task result
// is available; Submit returns a task ID immediately and reports the
// outcome only through logs and metrics.
package dispatchqueue
