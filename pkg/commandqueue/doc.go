// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// The engine serializes all session and intention-period control commands
// through the "control" lane, and maintenance operations through the
// "maintenance" lane, so racing commands apply in arrival order and never
// interleave.
package commandqueue
