package emit

import (
	"context"
	"sync"

	"github.com/dshills/workrail/ids"
)

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// session history analysis. Events are organized by sessionID — the
// root identifier a session's whole event log, locks, and projections
// are keyed under (§4.5, §4.6) — for efficient retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by sessionID with optional filtering
//   - Filter by runID, nodeID, message, eventIndex range
//   - Clear events by sessionID or all events
//
// Use cases:
//   - Development and debugging
//   - Testing and validation
//   - Real-time monitoring dashboards
//   - Post-execution analysis
//
// Warning: This emitter stores all events in memory. For production
// deployments with long-running sessions or high event volume, consider
// using a persistent storage backend or implement event rotation/cleanup.
//
// Example usage:
//
//	// Create buffered emitter for testing
//	emitter := emit.NewBufferedEmitter()
//	eng := engine.New(fsys, clock, kr, registry, emitter, metrics)
//
//	// Run a session
//	eng.StartWorkflow(ctx, engine.StartRequest{WorkflowId: "wf"})
//
//	// Query execution history
//	allEvents := emitter.GetHistory(sessionID)
//	errorEvents := emitter.GetHistoryWithFilter(sessionID, emit.HistoryFilter{Msg: "error"})
//
//	// Clean up old sessions
//	emitter.Clear(sessionID)
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[ids.SessionId][]Event // sessionID -> events
}

// HistoryFilter specifies criteria for filtering session history.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
//
// Fields:
//   - RunID: Filter by specific run within the session
//   - NodeID: Filter by specific node
//   - Msg: Filter by message type (e.g., "append_committed", "error")
//   - MinEventIndex: Filter events with eventIndex >= MinEventIndex (nil = no lower bound)
//   - MaxEventIndex: Filter events with eventIndex <= MaxEventIndex (nil = no upper bound)
//
// Example usage:
//
//	// Get all errors from a specific node
//	filter := emit.HistoryFilter{
//		NodeID: "validator",
//		Msg:    "error",
//	}
//	errors := emitter.GetHistoryWithFilter(sessionID, filter)
//
//	// Get events from eventIndex 5-10
//	minIdx, maxIdx := 5, 10
//	filter := emit.HistoryFilter{
//		MinEventIndex: &minIdx,
//		MaxEventIndex: &maxIdx,
//	}
//	indexEvents := emitter.GetHistoryWithFilter(sessionID, filter)
type HistoryFilter struct {
	RunID         ids.RunId  // Filter by run ID (empty = no filter)
	NodeID        ids.NodeId // Filter by node ID (empty = no filter)
	Msg           string     // Filter by message (empty = no filter)
	MinEventIndex *int       // Minimum event index (nil = no filter)
	MaxEventIndex *int       // Maximum event index (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
//
// Returns a BufferedEmitter that stores all events in memory and provides
// query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[ids.SessionId][]Event),
	}
}

// Emit stores an event in the buffer.
//
// Events are organized by sessionID for efficient retrieval. This method is
// thread-safe and can be called concurrently from multiple goroutines.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.SessionID] = append(b.events[event.SessionID], event)
}

// EmitBatch stores every event in events, in order, under one lock
// acquisition. It always returns nil.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range events {
		b.events[event.SessionID] = append(b.events[event.SessionID], event)
	}
	return nil
}

// Flush is a no-op: events are stored as soon as they are emitted. It
// always returns nil.
func (b *BufferedEmitter) Flush(_ context.Context) error {
	return nil
}

// GetHistory retrieves all events for a specific sessionID.
//
// Returns events in the order they were emitted. Returns an empty slice
// if no events exist for the given sessionID.
//
// This method is thread-safe and returns a copy of the events to prevent
// concurrent modification issues.
//
// Example:
//
//	events := emitter.GetHistory(sessionID)
//	for _, event := range events {
//		fmt.Printf("[%s] %s: %s\n", event.SessionID, event.NodeID, event.Msg)
//	}
func (b *BufferedEmitter) GetHistory(sessionID ids.SessionId) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[sessionID]
	if events == nil {
		return []Event{} // Return empty slice instead of nil
	}

	// Return a copy to prevent external modification
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific sessionID.
//
// Applies the provided filter criteria to select matching events. All filter
// conditions must match for an event to be included (AND logic).
//
// Returns events in the order they were emitted. Returns an empty slice if
// no events match the filter.
//
// This method is thread-safe and returns a copy of the events.
//
// Example:
//
//	// Get error events from "validator" node
//	filter := emit.HistoryFilter{
//		NodeID: "validator",
//		Msg:    "error",
//	}
//	errors := emitter.GetHistoryWithFilter(sessionID, filter)
//
//	// Get events from eventIndex 10-20
//	minIdx, maxIdx := 10, 20
//	filter := emit.HistoryFilter{
//		MinEventIndex: &minIdx,
//		MaxEventIndex: &maxIdx,
//	}
//	indexEvents := emitter.GetHistoryWithFilter(sessionID, filter)
func (b *BufferedEmitter) GetHistoryWithFilter(sessionID ids.SessionId, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[sessionID]
	if events == nil {
		return []Event{}
	}

	// If filter is empty, return all events
	if filter.RunID == "" && filter.NodeID == "" && filter.Msg == "" && filter.MinEventIndex == nil && filter.MaxEventIndex == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	// Apply filters
	var result []Event
	for _, event := range events {
		if !b.matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{} // Return empty slice instead of nil
	}
	return result
}

// matchesFilter checks if an event matches the filter criteria.
func (b *BufferedEmitter) matchesFilter(event Event, filter HistoryFilter) bool {
	// Filter by RunID
	if filter.RunID != "" && event.RunID != filter.RunID {
		return false
	}

	// Filter by NodeID
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}

	// Filter by Msg
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}

	// Filter by MinEventIndex
	if filter.MinEventIndex != nil && event.EventIndex < *filter.MinEventIndex {
		return false
	}

	// Filter by MaxEventIndex
	if filter.MaxEventIndex != nil && event.EventIndex > *filter.MaxEventIndex {
		return false
	}

	return true
}

// Clear removes stored events.
//
// If sessionID is non-empty, clears only events for that specific session.
// If sessionID is empty, clears all stored events across all sessions.
//
// This method is thread-safe and can be called concurrently.
//
// Example:
//
//	// Clear specific session
//	emitter.Clear(sessionID)
//
//	// Clear all sessions
//	emitter.Clear("")
func (b *BufferedEmitter) Clear(sessionID ids.SessionId) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sessionID == "" {
		// Clear all events
		b.events = make(map[ids.SessionId][]Event)
	} else {
		// Clear specific sessionID
		delete(b.events, sessionID)
	}
}
