package engine

import (
	"context"

	"github.com/dshills/workrail/canon"
	"github.com/dshills/workrail/emit"
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/sessionstore"
	"github.com/dshills/workrail/token"
)

// StartRequest is the input to StartWorkflow (§6 start_workflow).
type StartRequest struct {
	WorkflowId    string
	Context       map[string]interface{}
	WorkspacePath string
}

// StartResponse is start_workflow's output: fresh tokens bound to the
// run's root node, plus the pending step and effective preferences the
// caller needs to act on immediately.
type StartResponse struct {
	StateToken      string
	AckToken        string
	CheckpointToken string
	Pending         *event.PendingStep
	Preferences     event.Preferences
}

// StartWorkflow creates a new session and run against a registered
// workflow, emitting session_created, run_started, node_created(root),
// and optionally context_set/observation_recorded, in that order
// (§4.4, §4.7.9 shares its event-ordering convention with start).
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (*StartResponse, error) {
	wf, ok := e.registry.Lookup(req.WorkflowId)
	if !ok {
		return nil, notFound("unknown workflowId " + req.WorkflowId)
	}

	if req.Context != nil {
		canonicalBytes, err := canon.ToCanonicalBytes(req.Context)
		if err != nil {
			return nil, validationError("context contains a non-finite number", map[string]interface{}{"code": "context_non_finite_number"})
		}
		if len(canonicalBytes) > e.opts.ContextBudgetBytes {
			return nil, validationError("context exceeds the canonical byte budget", map[string]interface{}{
				"code":          "context_budget_exceeded",
				"measuredBytes": len(canonicalBytes),
			})
		}
	}

	sessionId, err := e.idFactory.NewSessionId()
	if err != nil {
		return nil, internalError("mint sessionId", err)
	}
	runId, err := e.idFactory.NewRunId()
	if err != nil {
		return nil, internalError("mint runId", err)
	}
	rootNodeId, err := e.idFactory.NewNodeId()
	if err != nil {
		return nil, internalError("mint rootNodeId", err)
	}

	workflowHash, err := e.workflows.Pin(ctx, wf)
	if err != nil {
		return nil, internalError("pin workflow", err)
	}
	workflowHashRef, err := ids.DeriveWorkflowHashRef(workflowHash)
	if err != nil {
		return nil, internalError("derive workflow hash ref", err)
	}

	snapshot := event.ExecutionSnapshot{
		Kind:    event.EngineStateRunning,
		Pending: &event.PendingStep{StepId: wf.RootStepId},
	}
	if err := snapshot.Validate(); err != nil {
		return nil, internalError("initial snapshot invariant", err)
	}
	snapshotRef, err := e.snapshots.Put(ctx, snapshot)
	if err != nil {
		return nil, internalError("store initial snapshot", err)
	}

	events := make([]event.Envelope, 0, 5)
	index := 0
	mkEventId := func() (ids.EventId, error) { return e.idFactory.NewEventId() }

	nextEvent := func(kind event.Kind, scope *event.Scope, dedupeKey string, data interface{}) error {
		eventId, err := mkEventId()
		if err != nil {
			return err
		}
		events = append(events, event.Envelope{
			V:          event.SchemaVersion,
			EventId:    eventId,
			EventIndex: index,
			SessionId:  sessionId,
			Kind:       kind,
			DedupeKey:  dedupeKey,
			Scope:      scope,
			Data:       data,
		})
		index++
		return nil
	}

	if err := nextEvent(event.KindSessionCreated, nil, sessionCreatedDedupeKey(string(sessionId)),
		event.SessionCreatedData{WorkflowHash: string(workflowHash)}); err != nil {
		return nil, internalError("build session_created", err)
	}
	if err := nextEvent(event.KindRunStarted, &event.Scope{RunId: runId}, runStartedDedupeKey(string(runId)),
		event.RunStartedData{RootNodeId: string(rootNodeId)}); err != nil {
		return nil, internalError("build run_started", err)
	}
	if err := nextEvent(event.KindNodeCreated, &event.Scope{RunId: runId, NodeId: rootNodeId}, nodeCreatedDedupeKey(string(rootNodeId)),
		event.NodeCreatedData{
			NodeId:         rootNodeId,
			NodeKind:       event.NodeKindStep,
			CreatedAtIndex: index,
			SnapshotRef:    ids.SnapshotRef(snapshotRef),
			StepId:         wf.RootStepId,
		}); err != nil {
		return nil, internalError("build node_created", err)
	}
	if len(req.Context) > 0 {
		if err := nextEvent(event.KindContextSet, &event.Scope{RunId: runId, NodeId: rootNodeId}, contextSetDedupeKey(string(rootNodeId), req.Context),
			event.ContextSetData{Context: req.Context}); err != nil {
			return nil, internalError("build context_set", err)
		}
	}
	if req.WorkspacePath != "" {
		if err := nextEvent(event.KindObservationRecorded, nil, observationRecordedDedupeKey(string(sessionId), "workspace_path", req.WorkspacePath),
			event.ObservationRecordedData{Key: "workspace_path", Value: req.WorkspacePath}); err != nil {
			return nil, internalError("build observation_recorded", err)
		}
	}

	plan := sessionstore.AppendPlan{
		Events: events,
		SnapshotPins: []sessionstore.SnapshotPin{
			{SnapshotRef: ids.SnapshotRef(snapshotRef), EventIndex: events[2].EventIndex, CreatedByEventId: events[2].EventId},
		},
	}

	log := sessionstore.NewEventLog(e.fsys, e.sessionDir(sessionId))
	lock, health, err := sessionstore.AcquireHealthy(ctx, e.fsys, e.sessionDir(sessionId), sessionId, e.clock, log)
	if err != nil {
		return nil, internalError("acquire session lock", err)
	}
	if health != sessionstore.HealthHealthy {
		return nil, internalError("freshly minted session is not healthy", nil)
	}
	e.emitter.Emit(emit.Event{SessionID: sessionId, Msg: "lock_acquired"})
	defer lock.Release(ctx)

	if err := e.appendPlan(ctx, lock, sessionId, plan); err != nil {
		return nil, err
	}

	attemptId := deriveInitialAttemptId(string(rootNodeId))

	stateToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindState, SessionId: sessionId, RunId: runId, NodeId: rootNodeId,
		WorkflowHashRef: workflowHashRef,
	})
	if err != nil {
		return nil, internalError("mint state token", err)
	}
	ackToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindAck, SessionId: sessionId, RunId: runId, NodeId: rootNodeId,
		AttemptId: attemptId,
	})
	if err != nil {
		return nil, internalError("mint ack token", err)
	}
	checkpointToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindCheckpoint, SessionId: sessionId, RunId: runId, NodeId: rootNodeId,
	})
	if err != nil {
		return nil, internalError("mint checkpoint token", err)
	}

	preferences := event.Preferences{
		Autonomy:   event.Autonomy(e.opts.DefaultAutonomy),
		RiskPolicy: event.RiskBalanced,
	}

	e.recordResumeActivity(ctx, sessionId, req.WorkspacePath, "", "", events[2].EventIndex)

	return &StartResponse{
		StateToken:      stateToken,
		AckToken:        ackToken,
		CheckpointToken: checkpointToken,
		Pending:         snapshot.Pending,
		Preferences:     preferences,
	}, nil
}
