package engine

import (
	"context"
	"strconv"

	"github.com/dshills/workrail/emit"
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/sessionstore"
	"github.com/dshills/workrail/token"
)

// CheckpointResponse is checkpoint_workflow's output: a fresh state token
// bound to the newly created checkpoint node (§6 checkpoint_workflow).
type CheckpointResponse struct {
	StateToken string
}

// CheckpointWorkflow consumes a checkpoint token and records a durable
// progress marker off its current node, with no advancement of the
// pending step (§4.8). Replaying the same call against unchanged durable
// truth is idempotent: see the nextIndex derivation below.
func (e *Engine) CheckpointWorkflow(ctx context.Context, checkpointToken string) (*CheckpointResponse, error) {
	payload, err := token.Parse(e.keyring, checkpointToken)
	if err != nil {
		return nil, tokenError(err)
	}
	if payload.Kind != token.KindCheckpoint {
		return nil, validationError("expected a checkpoint token", nil)
	}

	lock, events, err := e.openSession(ctx, payload.SessionId)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	proj, err := buildProjections(events)
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveProjectionRebuild()
	e.emitter.Emit(emit.Event{
		SessionID: payload.SessionId, RunID: payload.RunId, NodeID: payload.NodeId,
		EventIndex: len(events) - 1, Msg: "projection_rebuilt",
	})

	run, ok := proj.RunDAG.RunsById[payload.RunId]
	if !ok {
		return nil, validationError("unknown run in checkpoint token", nil)
	}
	parent, ok := run.NodesById[payload.NodeId]
	if !ok {
		return nil, validationError("unknown node in checkpoint token", nil)
	}

	nextIndex := len(events)
	// The checkpoint node's id is derived from its parent and the tail
	// eventIndex at call time, not from the checkpoint token's own
	// attemptId (checkpoint tokens carry none): a literal replay of the
	// same call against unchanged durable truth sees the same nextIndex
	// and so derives the same node, landing on EventLog.Append's no-op
	// path, while a genuinely new checkpoint request (durable truth has
	// since advanced) sees a different nextIndex and gets a fresh node.
	checkpointNodeId := deriveNodeId(string(payload.NodeId), strconv.Itoa(nextIndex), "checkpoint")

	// A checkpoint never advances the pending step: its snapshot carries
	// forward exactly the parent's completed/loopStack/pending fields.
	parentSnapshot, err := e.loadSnapshot(ctx, parent.SnapshotRef)
	if err != nil {
		return nil, err
	}
	checkpointSnapshot := event.ExecutionSnapshot{
		Kind:      event.EngineStateRunning,
		Completed: parentSnapshot.Completed,
		LoopStack: parentSnapshot.LoopStack,
		Pending:   parentSnapshot.Pending,
	}
	snapshotRef, err := e.snapshots.Put(ctx, checkpointSnapshot)
	if err != nil {
		return nil, internalError("store checkpoint snapshot", err)
	}
	eventId, err := e.idFactory.NewEventId()
	if err != nil {
		return nil, internalError("mint eventId", err)
	}
	parentNodeId := parent.NodeId
	nodeCreated := event.Envelope{
		V: event.SchemaVersion, EventId: eventId, EventIndex: nextIndex, SessionId: payload.SessionId,
		Kind: event.KindNodeCreated, DedupeKey: nodeCreatedDedupeKey(string(checkpointNodeId)),
		Scope: &event.Scope{RunId: payload.RunId, NodeId: checkpointNodeId},
		Data: event.NodeCreatedData{
			NodeId: checkpointNodeId, NodeKind: event.NodeKindCheckpoint,
			ParentNodeId: &parentNodeId, CreatedAtIndex: nextIndex,
			SnapshotRef: ids.SnapshotRef(snapshotRef),
		},
	}

	edgeEventId, err := e.idFactory.NewEventId()
	if err != nil {
		return nil, internalError("mint eventId", err)
	}
	edgeCreated := event.Envelope{
		V: event.SchemaVersion, EventId: edgeEventId, EventIndex: nextIndex + 1, SessionId: payload.SessionId,
		Kind: event.KindEdgeCreated, DedupeKey: edgeCreatedDedupeKey(string(parent.NodeId), string(checkpointNodeId)),
		Scope: &event.Scope{RunId: payload.RunId, NodeId: checkpointNodeId},
		Data: event.EdgeCreatedData{
			FromNodeId: parent.NodeId, ToNodeId: checkpointNodeId,
			EdgeKind: event.EdgeKindCheckpoint, Cause: event.CauseCheckpointCreated,
		},
	}

	plan := sessionstore.AppendPlan{
		Events: []event.Envelope{nodeCreated, edgeCreated},
		SnapshotPins: []sessionstore.SnapshotPin{
			{SnapshotRef: ids.SnapshotRef(snapshotRef), EventIndex: nextIndex, CreatedByEventId: eventId},
		},
	}
	if err := e.appendPlan(ctx, lock, payload.SessionId, plan); err != nil {
		return nil, err
	}

	stateToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindState, SessionId: payload.SessionId, RunId: payload.RunId, NodeId: checkpointNodeId,
		WorkflowHashRef: payload.WorkflowHashRef,
	})
	if err != nil {
		return nil, internalError("mint state token", err)
	}

	return &CheckpointResponse{StateToken: stateToken}, nil
}
