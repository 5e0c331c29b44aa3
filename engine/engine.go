package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dshills/workrail/emit"
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/fsio"
	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/keyring"
	"github.com/dshills/workrail/projection"
	"github.com/dshills/workrail/sessionstore"
)

// Engine is the composition root every tool surface entry point
// (start_workflow, continue_workflow, checkpoint_workflow, resume_session,
// list_workflows, inspect_workflow) is a method of. It owns no mutable
// state of its own beyond its capability ports; all durable truth lives
// under opts.DataRoot via fsys (§9 "Global state": the keyring is the only
// legitimately global mutable state, and it is owned by the caller, not
// the Engine).
type Engine struct {
	fsys      fsio.FileSystem
	clock     fsio.Clock
	keyring   *keyring.Keyring
	idFactory *ids.Factory
	registry  *Registry
	workflows *WorkflowStore
	snapshots *sessionstore.CAS
	emitter   emit.Emitter
	metrics   *Metrics
	opts      Options

	// resumeIndex is the optional SQLite secondary index resume_session
	// queries before falling back to the full directory scan. Nil is a
	// valid, fully-correct configuration: every lookup that would use it
	// degrades to the scan (§4.6, §9 Design Notes "projection cache").
	resumeIndex *sessionstore.ResumeIndex
}

// New builds an Engine over fsys rooted at opts.DataRoot, against kr for
// token signing and registry for workflow lookup.
func New(fsys fsio.FileSystem, clock fsio.Clock, kr *keyring.Keyring, registry *Registry, emitter emit.Emitter, metrics *Metrics, opt ...Option) *Engine {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Engine{
		fsys:        fsys,
		clock:       clock,
		keyring:     kr,
		idFactory:   ids.NewFactory(),
		registry:    registry,
		workflows:   NewWorkflowStore(sessionstore.NewCAS(fsys, opts.DataRoot+"/workflows")),
		snapshots:   sessionstore.NewCAS(fsys, opts.DataRoot+"/snapshots"),
		emitter:     emitter,
		metrics:     metrics,
		resumeIndex: opts.ResumeIndex,
		opts:        opts,
	}
}

func (e *Engine) sessionDir(sessionId ids.SessionId) string {
	return e.opts.DataRoot + "/sessions/" + string(sessionId)
}

func (e *Engine) sessionsRoot() string {
	return e.opts.DataRoot + "/sessions"
}

// openSession acquires the session's HealthyLock and reloads its full
// event history, the shared gate every engine entry point except
// start_workflow (which has no prior session) and resume_session (which
// only reads) must pass before appending (§4.5).
func (e *Engine) openSession(ctx context.Context, sessionId ids.SessionId) (*sessionstore.HealthyLock, []event.Envelope, error) {
	dir := e.sessionDir(sessionId)
	log := sessionstore.NewEventLog(e.fsys, dir)
	lock, health, err := sessionstore.AcquireHealthy(ctx, e.fsys, dir, sessionId, e.clock, log)
	if err != nil {
		return nil, nil, internalError("acquire session lock", err)
	}
	if health != sessionstore.HealthHealthy {
		return nil, nil, preconditionFailed("session is "+string(health)+", refusing to run", Retry{Kind: RetryNotRetryable})
	}
	e.emitter.Emit(emit.Event{SessionID: sessionId, Msg: "lock_acquired"})
	result, err := log.Load(ctx)
	if err != nil {
		_ = lock.Release(ctx)
		return nil, nil, internalError("reload session truth", err)
	}
	return lock, result.Events, nil
}

func (e *Engine) appendPlan(ctx context.Context, lock *sessionstore.HealthyLock, sessionId ids.SessionId, plan sessionstore.AppendPlan) error {
	log := sessionstore.NewEventLog(e.fsys, e.sessionDir(sessionId))
	start := time.Now()
	err := log.Append(ctx, lock, plan)
	if err == nil {
		e.metrics.ObserveAppend(float64(time.Since(start).Milliseconds()))
		runId, nodeId, tailIndex, dedupeKey := planObservability(plan)
		e.emitter.Emit(emit.Event{
			SessionID: sessionId, RunID: runId, NodeID: nodeId, EventIndex: tailIndex,
			Msg: "append_committed",
			Meta: map[string]interface{}{"eventCount": len(plan.Events), "dedupeKey": dedupeKey},
		})
		return nil
	}
	if storeErr, ok := err.(*sessionstore.StoreError); ok {
		switch storeErr.Code {
		case sessionstore.CodeLockBusy, sessionstore.CodeSessionLockBusy:
			e.metrics.ObserveLockWait(storeErr.RetryMs)
			e.emitter.Emit(emit.Event{
				SessionID: sessionId, Msg: "lock_busy",
				Meta: map[string]interface{}{"retryAfterMs": storeErr.RetryMs},
			})
			return preconditionFailed("session lock busy", Retry{Kind: RetryAfterMs, AfterMs: storeErr.RetryMs})
		case sessionstore.CodeCorruptionDetected:
			e.metrics.ObserveCorruption()
			e.emitter.Emit(emit.Event{SessionID: sessionId, Msg: "corruption_detected"})
			return preconditionFailed("storage corruption detected", Retry{Kind: RetryNotRetryable})
		}
	}
	return internalError("append failed", err)
}

// planObservability reads the run/node/tail-index/dedupeKey an append
// batch's own last event already carries, so appendPlan's emitted event
// reflects real append-log coordinates instead of a bare message string.
func planObservability(plan sessionstore.AppendPlan) (runId ids.RunId, nodeId ids.NodeId, tailIndex int, dedupeKey string) {
	if len(plan.Events) == 0 {
		return "", "", 0, ""
	}
	last := plan.Events[len(plan.Events)-1]
	tailIndex = last.EventIndex
	dedupeKey = last.DedupeKey
	if last.Scope != nil {
		runId = last.Scope.RunId
		nodeId = last.Scope.NodeId
	}
	return runId, nodeId, tailIndex, dedupeKey
}

// loadSnapshot resolves the ExecutionSnapshot a node's SnapshotRef points
// to. CAS.Get returns (nil, nil) for a missing ref, which would be a
// storage invariant violation here since every node_created's SnapshotRef
// was pinned in the same append batch that created it — so a nil result
// is reported as internal error, not silently treated as the zero
// snapshot.
func (e *Engine) loadSnapshot(ctx context.Context, ref ids.SnapshotRef) (event.ExecutionSnapshot, error) {
	data, err := e.snapshots.Get(ctx, string(ref))
	if err != nil {
		return event.ExecutionSnapshot{}, internalError("load snapshot", err)
	}
	if data == nil {
		return event.ExecutionSnapshot{}, internalError("snapshot ref has no backing data: "+string(ref), nil)
	}
	var snap event.ExecutionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return event.ExecutionSnapshot{}, internalError("decode snapshot", err)
	}
	return snap, nil
}

// sessionWorkflowHash extracts the WorkflowHash a session was started
// against from its session_created event, the one place it is durably
// recorded (§4.4). Every healthy session has exactly one.
func sessionWorkflowHash(events []event.Envelope) (ids.WorkflowHash, error) {
	for _, ev := range events {
		if ev.Kind != event.KindSessionCreated {
			continue
		}
		var d event.SessionCreatedData
		if err := ev.DecodeData(&d); err != nil {
			return "", internalError("decode session_created", err)
		}
		return ids.WorkflowHash(d.WorkflowHash), nil
	}
	return "", internalError("session has no session_created event", nil)
}

// sessionObservations extracts the workspace/git observations the resume
// index opportunistically caches, the same keys projection.BuildSummary
// reads back out of a session's observation_recorded events (§4.6
// "session summary for resume").
func sessionObservations(events []event.Envelope) (workspacePath, gitBranch, gitHeadSha string) {
	for _, ev := range events {
		if ev.Kind != event.KindObservationRecorded {
			continue
		}
		var d event.ObservationRecordedData
		if err := ev.DecodeData(&d); err != nil {
			continue
		}
		switch d.Key {
		case "workspace_path":
			workspacePath = d.Value
		case "git_branch":
			gitBranch = d.Value
		case "git_head_sha":
			gitHeadSha = d.Value
		}
	}
	return workspacePath, gitBranch, gitHeadSha
}

// buildProjections folds events into every projection an engine operation
// needs, converting a corrupt-tail fold (which should never happen on an
// already-healthy session, since health.Load already validated the tail)
// into an internal error rather than a silent zero value.
func buildProjections(events []event.Envelope) (*projection.Projected, error) {
	proj := projection.BuildAll(events)
	if proj.Health != projection.SessionHealthy {
		return nil, internalError("projection invariant violated on an already-healthy session: "+proj.HealthReason, nil)
	}
	return proj, nil
}
