package event

import "github.com/dshills/workrail/ids"

// NodeKind is the closed set of run-DAG node kinds.
type NodeKind string

const (
	// NodeKindStep is a pending or completed workflow step.
	NodeKindStep NodeKind = "step"
	// NodeKindCheckpoint is a durable progress marker with no advancement.
	NodeKindCheckpoint NodeKind = "checkpoint"
	// NodeKindBlockedAttempt is an attempt that failed validation or blocked
	// on a reason; always a leaf, always has a parent.
	NodeKindBlockedAttempt NodeKind = "blocked_attempt"
)

// NodeCreatedData is the payload of a node_created event.
type NodeCreatedData struct {
	NodeId         ids.NodeId      `json:"nodeId"`
	NodeKind       NodeKind        `json:"nodeKind"`
	ParentNodeId   *ids.NodeId     `json:"parentNodeId,omitempty"`
	CreatedAtIndex int             `json:"createdAtEventIndex"`
	SnapshotRef    ids.SnapshotRef `json:"snapshotRef"`
	StepId         string          `json:"stepId,omitempty"`
}

// EdgeKind is the closed set of run-DAG edge kinds.
type EdgeKind string

const (
	// EdgeKindAckedStep connects a parent to a child after a successful advance.
	EdgeKindAckedStep EdgeKind = "acked_step"
	// EdgeKindCheckpoint connects a parent to a checkpoint node.
	EdgeKindCheckpoint EdgeKind = "checkpoint"
)

// Cause is the closed set of reasons an edge was drawn.
type Cause string

const (
	CauseIdempotentReplay  Cause = "idempotent_replay"
	CauseIntentionalFork   Cause = "intentional_fork"
	CauseNonTipAdvance     Cause = "non_tip_advance"
	CauseCheckpointCreated Cause = "checkpoint_created"
)

// EdgeCreatedData is the payload of an edge_created event. The invariant
// "child.parentNodeId == fromNodeId" is enforced by the projection that
// folds node_created and edge_created events together, not by this type.
type EdgeCreatedData struct {
	FromNodeId ids.NodeId `json:"fromNodeId"`
	ToNodeId   ids.NodeId `json:"toNodeId"`
	EdgeKind   EdgeKind   `json:"edgeKind"`
	Cause      Cause      `json:"cause"`
}

// ValidateEdgeCreated enforces that checkpoint edges always carry the
// checkpoint_created cause, per §3.3.
func ValidateEdgeCreated(d EdgeCreatedData) error {
	if d.EdgeKind == EdgeKindCheckpoint && d.Cause != CauseCheckpointCreated {
		return errInvalidCheckpointCause(d.Cause)
	}
	return nil
}

func errInvalidCheckpointCause(c Cause) error {
	return &SchemaError{Msg: "checkpoint edges require cause checkpoint_created, got " + string(c)}
}

// SchemaError reports a schema validation failure on an event's Data payload.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return "event: " + e.Msg }
