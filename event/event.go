// Package event defines the closed-set domain event schema, the envelope
// every event travels in, and the node/edge/snapshot/blocker/gap/output
// types projections and the engine build from it. Nothing in this package
// performs I/O; it is pure data plus the schema validation every event must
// pass before it can be appended.
package event

import (
	"fmt"

	"github.com/dshills/workrail/ids"
)

// Kind is the closed set of domain event kinds.
type Kind string

const (
	KindSessionCreated        Kind = "session_created"
	KindObservationRecorded   Kind = "observation_recorded"
	KindRunStarted            Kind = "run_started"
	KindNodeCreated           Kind = "node_created"
	KindEdgeCreated           Kind = "edge_created"
	KindAdvanceRecorded       Kind = "advance_recorded"
	KindNodeOutputAppended    Kind = "node_output_appended"
	KindPreferencesChanged    Kind = "preferences_changed"
	KindCapabilityObserved    Kind = "capability_observed"
	KindGapRecorded           Kind = "gap_recorded"
	KindDivergenceRecorded    Kind = "divergence_recorded"
	KindDecisionTraceAppended Kind = "decision_trace_appended"
	KindValidationPerformed   Kind = "validation_performed"
	KindContextSet            Kind = "context_set"
)

// allKinds is used for schema validation's exhaustiveness check.
var allKinds = map[Kind]bool{
	KindSessionCreated:        true,
	KindObservationRecorded:   true,
	KindRunStarted:            true,
	KindNodeCreated:           true,
	KindEdgeCreated:           true,
	KindAdvanceRecorded:       true,
	KindNodeOutputAppended:    true,
	KindPreferencesChanged:    true,
	KindCapabilityObserved:    true,
	KindGapRecorded:           true,
	KindDivergenceRecorded:    true,
	KindDecisionTraceAppended: true,
	KindValidationPerformed:   true,
	KindContextSet:            true,
}

// Scope narrows an event to a run and/or node; both fields are optional.
type Scope struct {
	RunId  ids.RunId  `json:"runId,omitempty"`
	NodeId ids.NodeId `json:"nodeId,omitempty"`
}

// Envelope is the wire shape every event takes: a fixed header plus a
// kind-determined Data payload.
type Envelope struct {
	V          int           `json:"v"`
	EventId    ids.EventId   `json:"eventId"`
	EventIndex int           `json:"eventIndex"`
	SessionId  ids.SessionId `json:"sessionId"`
	Kind       Kind          `json:"kind"`
	DedupeKey  string        `json:"dedupeKey"`
	Scope      *Scope        `json:"scope,omitempty"`
	Data       interface{}   `json:"data"`
}

// SchemaVersion is the only schema version this engine emits or accepts.
const SchemaVersion = 1

// Validate checks the envelope's header shape: known kind, schema version,
// non-empty identifiers. It does not validate Data against its kind-specific
// shape; DecodeData only unmarshals Data into the caller's type and does not
// check Kind either.
func (e Envelope) Validate() error {
	if e.V != SchemaVersion {
		return fmt.Errorf("event: unknown schema version %d", e.V)
	}
	if !allKinds[e.Kind] {
		return fmt.Errorf("event: unknown kind %q", e.Kind)
	}
	if e.EventId == "" {
		return fmt.Errorf("event: missing eventId")
	}
	if e.SessionId == "" {
		return fmt.Errorf("event: missing sessionId")
	}
	if e.DedupeKey == "" {
		return fmt.Errorf("event: missing dedupeKey")
	}
	if e.EventIndex < 0 {
		return fmt.Errorf("event: negative eventIndex %d", e.EventIndex)
	}
	return nil
}
