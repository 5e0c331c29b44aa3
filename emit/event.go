package emit

import "github.com/dshills/workrail/ids"

// Event represents an observability event emitted during session execution.
//
// Events provide detailed insight into engine behavior:
//   - Session lock acquisition and contention
//   - Append commits and idempotent replays
//   - Projection rebuilds
//   - Corruption detection
//
// Events are emitted to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Store in time-series databases
//   - Trigger alerts
type Event struct {
	// SessionID identifies the session the event concerns. Every event
	// has one; it is the root identifier a session's whole event log,
	// locks, and projections are keyed under (§4.5, §4.6).
	SessionID ids.SessionId

	// RunID identifies the run within SessionID. Empty for session-level
	// events (lock_acquired, lock_busy, corruption_detected).
	RunID ids.RunId

	// NodeID identifies which DAG node this event concerns. Empty for
	// session- or run-level events.
	NodeID ids.NodeId

	// EventIndex is the durable event log position this observability
	// event corresponds to, for append-related events — the same
	// contiguous, zero-based index sessionstore.Append assigns each
	// committed domain event. Events with no durable event of their own
	// (e.g. lock_acquired) carry 0.
	EventIndex int

	// Msg is a human-readable description of the event, e.g.
	// "append_committed", "lock_acquired", "projection_rebuilt".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": operation duration in milliseconds
	//   - "error": error details
	//   - "eventCount": number of events in a committed batch (append_committed)
	//   - "dedupeKey": the dedupeKey of the batch's last committed event (append_committed)
	//   - "retryAfterMs": retry hint on a busy session lock (lock_busy)
	//   - "retryable": whether a failure can be retried
	Meta map[string]interface{}
}
