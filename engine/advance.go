package engine

import (
	"context"
	"sort"

	"github.com/dshills/workrail/canon"
	"github.com/dshills/workrail/emit"
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/projection"
	"github.com/dshills/workrail/sessionstore"
	"github.com/dshills/workrail/token"
)

// Intent is the closed set of continue_workflow intents (§6 continue_workflow).
type Intent string

const (
	IntentAdvance   Intent = "advance"
	IntentRehydrate Intent = "rehydrate"
)

// NextIntent is the closed set continue_workflow suggests the caller use on
// its next call.
type NextIntent string

const (
	NextIntentAdvance       NextIntent = "advance"
	NextIntentRehydrateOnly NextIntent = "rehydrate_only"
)

// OutputInput is the caller-supplied output for an advance call: at most
// one recap (Notes) and one artifact, on their respective channels.
type OutputInput struct {
	Notes       string
	ArtifactRef *event.ArtifactRef
}

// ContinueRequest is the input to ContinueWorkflow.
type ContinueRequest struct {
	StateToken string
	Intent     Intent
	AckToken   string
	Context    map[string]interface{}
	Output     *OutputInput
}

// ContinueResponse is continue_workflow's output.
type ContinueResponse struct {
	StateToken      string
	AckToken        string
	CheckpointToken string
	NextIntent      NextIntent
	Pending         *event.PendingStep
	Blocked         *event.BlockPayload
	Preferences     event.Preferences
}

// ContinueWorkflow implements the advance/block state machine (§4.7): one
// call either rehydrates the caller's view of durable truth with no side
// effects, or attempts one step and commits exactly one atomic append
// recording either an advance or a block.
func (e *Engine) ContinueWorkflow(ctx context.Context, req ContinueRequest) (*ContinueResponse, error) {
	if req.Intent != IntentAdvance && req.Intent != IntentRehydrate {
		return nil, validationError("unknown intent "+string(req.Intent), nil)
	}
	if req.Intent == IntentAdvance && req.AckToken == "" {
		return nil, validationError("ackToken is required for intent=advance", nil)
	}
	if req.Intent == IntentRehydrate && (req.AckToken != "" || req.Output != nil) {
		return nil, validationError("ackToken and output are forbidden for intent=rehydrate", nil)
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

	statePayload, err := token.Parse(e.keyring, req.StateToken)
	if err != nil {
		return nil, tokenError(err)
	}
	if statePayload.Kind != token.KindState {
		return nil, validationError("expected a state token", nil)
	}

	var ackPayload token.Payload
	if req.AckToken != "" {
		ackPayload, err = token.Parse(e.keyring, req.AckToken)
		if err != nil {
			return nil, tokenError(err)
		}
		if ackPayload.Kind != token.KindAck {
			return nil, validationError("expected an ack token", nil)
		}
		if err := token.VerifyScope(statePayload, ackPayload); err != nil {
			return nil, tokenError(err)
		}
	}

	lock, events, err := e.openSession(ctx, statePayload.SessionId)
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
		SessionID: statePayload.SessionId, RunID: statePayload.RunId, NodeID: statePayload.NodeId,
		EventIndex: len(events) - 1, Msg: "projection_rebuilt",
	})

	run, ok := proj.RunDAG.RunsById[statePayload.RunId]
	if !ok {
		return nil, validationError("unknown run in state token", nil)
	}
	currentNode, ok := run.NodesById[statePayload.NodeId]
	if !ok {
		return nil, validationError("unknown node in state token", nil)
	}

	workflowHash, err := sessionWorkflowHash(events)
	if err != nil {
		return nil, err
	}
	workflow, err := e.workflows.Resolve(ctx, workflowHash)
	if err != nil {
		return nil, err
	}

	currentSnapshot, err := e.loadSnapshot(ctx, currentNode.SnapshotRef)
	if err != nil {
		return nil, err
	}

	effectivePreferences := event.Preferences{Autonomy: event.Autonomy(e.opts.DefaultAutonomy), RiskPolicy: event.RiskBalanced}
	if p, ok := proj.Preferences.ByNode[currentNode.NodeId]; ok {
		effectivePreferences = p
	}

	ancestorChain := ancestorChainOf(run, currentNode.NodeId)
	mergedContext, err := mergeContextChain(events, ancestorChain)
	if err != nil {
		return nil, internalError("merge context", err)
	}
	for k, v := range req.Context {
		mergedContext[k] = v
	}

	if req.Intent == IntentRehydrate {
		return e.rehydrate(statePayload, currentNode, currentSnapshot, effectivePreferences)
	}

	if currentSnapshot.Pending == nil {
		return nil, validationError("no step is pending at this node", nil)
	}
	step, ok := workflow.Step(currentSnapshot.Pending.StepId)
	if !ok {
		return nil, internalError("pinned workflow has no step "+currentSnapshot.Pending.StepId, nil)
	}

	requestAttemptId := string(ackPayload.AttemptId)

	var reasons []event.Reason
	for _, key := range step.RequiredContextKeys {
		if _, present := mergedContext[key]; !present {
			reasons = append(reasons, event.Reason{
				Code:    event.BlockerMissingContextKey,
				Pointer: event.BlockerPointer{Kind: event.PointerContextKey, Ref: key},
				Detail:  "required context key " + key + " is missing",
			})
		}
	}

	isRetry := currentNode.NodeKind == event.NodeKindBlockedAttempt &&
		currentSnapshot.Blocked != nil &&
		ackPayload.AttemptId != "" &&
		ackPayload.AttemptId == currentSnapshot.Blocked.RetryAttemptId

	var notes string
	var artifact *event.ArtifactRef
	if req.Output != nil {
		notes = req.Output.Notes
		artifact = req.Output.ArtifactRef
	}

	outcome := event.ValidationNotRequired
	var contractRef string
	hasOutputRequirement := step.OutputContract != nil || step.ValidationCriteria != nil

	switch {
	case step.OutputContract != nil:
		contractRef = step.OutputContract.ContentType
		if artifact == nil {
			outcome = event.ValidationMissing
			reasons = append(reasons, event.Reason{
				Code:    event.BlockerMissingRequiredOutput,
				Pointer: event.BlockerPointer{Kind: event.PointerOutputContract, Ref: currentSnapshot.Pending.StepId},
				Detail:  "step requires an artifact output but none was supplied",
			})
		} else {
			outcome = event.ValidationSatisfied
		}
	case hasOutputRequirement:
		switch {
		case notes == "":
			outcome = event.ValidationMissing
			reasons = append(reasons, event.Reason{
				Code:    event.BlockerMissingRequiredOutput,
				Pointer: event.BlockerPointer{Kind: event.PointerOutputContract, Ref: currentSnapshot.Pending.StepId},
				Detail:  "step requires output but none was supplied",
			})
		case !step.ValidationCriteria.Validate(notes):
			outcome = event.ValidationInvalid
			reasons = append(reasons, event.Reason{
				Code:    event.BlockerInvalidRequiredOutput,
				Pointer: event.BlockerPointer{Kind: event.PointerOutputContract, Ref: currentSnapshot.Pending.StepId},
				Detail:  "output did not satisfy validation criteria",
			})
		default:
			outcome = event.ValidationSatisfied
		}
	case !step.NotesOptional && notes == "":
		reasons = append(reasons, event.Reason{
			Code:    event.BlockerMissingRequiredNotes,
			Pointer: event.BlockerPointer{Kind: event.PointerWorkflowStep, Ref: currentSnapshot.Pending.StepId},
			Detail:  "notes are required for this step",
		})
	}

	for _, cap := range step.RequiredCapabilities {
		switch proj.Capabilities.StatusFor(currentNode.NodeId, cap) {
		case event.CapabilityUnknown:
			reasons = append(reasons, event.Reason{
				Code:    event.BlockerRequiredCapabilityUnknown,
				Pointer: event.BlockerPointer{Kind: event.PointerCapability, Ref: cap},
				Detail:  "capability " + cap + " has not been observed",
			})
		case event.CapabilityUnavailable:
			reasons = append(reasons, event.Reason{
				Code:    event.BlockerRequiredCapabilityUnavailable,
				Pointer: event.BlockerPointer{Kind: event.PointerCapability, Ref: cap},
				Detail:  "capability " + cap + " is unavailable",
			})
		}
	}
	for _, dep := range step.UserOnlyDependencies {
		reasons = append(reasons, event.Reason{
			Code:    event.BlockerUserOnlyDependency,
			Pointer: event.BlockerPointer{Kind: event.PointerCapability, Ref: dep},
			Detail:  "dependency " + dep + " can only be resolved by a user",
		})
	}

	nextIndex := len(events)

	if event.ShouldBlock(effectivePreferences.Autonomy, reasons) {
		return e.recordBlock(ctx, lock, statePayload, requestAttemptId, nextIndex, currentNode, run, currentSnapshot, req, reasons)
	}

	return e.recordAdvance(ctx, lock, statePayload, requestAttemptId, nextIndex, events, currentNode, run, step, currentSnapshot, req, isRetry, outcome, contractRef, reasons)
}

// ancestorChainOf returns nodeId and every ancestor up to the run's root,
// nodeId first.
func ancestorChainOf(run *projection.Run, nodeId ids.NodeId) []ids.NodeId {
	var chain []ids.NodeId
	cur := nodeId
	for {
		chain = append(chain, cur)
		n, ok := run.NodesById[cur]
		if !ok || n.ParentNodeId == nil {
			break
		}
		cur = *n.ParentNodeId
	}
	return chain
}

// mergeContextChain folds every context_set event scoped to a node in
// chain: a shallow merge where each key's value is replaced wholesale by
// its most recent setter, in event order (§4.7.4).
func mergeContextChain(events []event.Envelope, chain []ids.NodeId) (map[string]interface{}, error) {
	inChain := make(map[ids.NodeId]bool, len(chain))
	for _, n := range chain {
		inChain[n] = true
	}
	merged := map[string]interface{}{}
	for _, ev := range events {
		if ev.Kind != event.KindContextSet || ev.Scope == nil || !inChain[ev.Scope.NodeId] {
			continue
		}
		var d event.ContextSetData
		if err := ev.DecodeData(&d); err != nil {
			return nil, err
		}
		for k, v := range d.Context {
			merged[k] = v
		}
	}
	return merged, nil
}

// rehydrate re-signs the caller's current tokens with no durable side
// effect: the caller's view of pending/blocked state is whatever the
// current node's own snapshot already says (§4.7.5).
func (e *Engine) rehydrate(statePayload token.Payload, currentNode *projection.Node, snapshot event.ExecutionSnapshot, prefs event.Preferences) (*ContinueResponse, error) {
	stateToken, err := token.Sign(e.keyring, statePayload)
	if err != nil {
		return nil, internalError("mint state token", err)
	}

	nextIntent := NextIntentAdvance
	var ackToken string
	switch {
	case snapshot.Pending == nil:
		nextIntent = NextIntentRehydrateOnly
	default:
		attemptId := deriveInitialAttemptId(string(currentNode.NodeId))
		if snapshot.Blocked != nil && snapshot.Blocked.RetryAttemptId != "" {
			attemptId = snapshot.Blocked.RetryAttemptId
		}
		ackToken, err = token.Sign(e.keyring, token.Payload{
			Kind: token.KindAck, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: statePayload.NodeId,
			AttemptId: attemptId,
		})
		if err != nil {
			return nil, internalError("mint ack token", err)
		}
	}

	checkpointToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindCheckpoint, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: statePayload.NodeId,
	})
	if err != nil {
		return nil, internalError("mint checkpoint token", err)
	}

	return &ContinueResponse{
		StateToken:      stateToken,
		AckToken:        ackToken,
		CheckpointToken: checkpointToken,
		NextIntent:      nextIntent,
		Pending:         snapshot.Pending,
		Blocked:         snapshot.Blocked,
		Preferences:     prefs,
	}, nil
}

// eventBatch accumulates one advance/block call's event batch with
// contiguous eventIndexes starting where the session's durable log leaves
// off, tracking the single snapshot pin the batch's node_created event
// carries (§4.7.9).
type eventBatch struct {
	engine     *Engine
	sessionId  ids.SessionId
	events     []event.Envelope
	nextIndex  int
	err        error
	pinRef     ids.SnapshotRef
	pinIndex   int
	pinEventId ids.EventId
	hasPin     bool
}

func newEventBatch(e *Engine, sessionId ids.SessionId, startIndex int) *eventBatch {
	return &eventBatch{engine: e, sessionId: sessionId, nextIndex: startIndex}
}

func (b *eventBatch) add(kind event.Kind, scope *event.Scope, dedupeKey string, data interface{}) ids.EventId {
	if b.err != nil {
		return ""
	}
	eventId, err := b.engine.idFactory.NewEventId()
	if err != nil {
		b.err = err
		return ""
	}
	b.events = append(b.events, event.Envelope{
		V: event.SchemaVersion, EventId: eventId, EventIndex: b.nextIndex, SessionId: b.sessionId,
		Kind: kind, DedupeKey: dedupeKey, Scope: scope, Data: data,
	})
	b.nextIndex++
	return eventId
}

func (b *eventBatch) addContextSet(runId ids.RunId, nodeId ids.NodeId, ctx map[string]interface{}) {
	if len(ctx) == 0 {
		return
	}
	b.add(event.KindContextSet, &event.Scope{RunId: runId, NodeId: nodeId}, contextSetDedupeKey(string(nodeId), ctx), event.ContextSetData{Context: ctx})
}

// addOutputs appends output's recap/artifact in §3.7's normalized order:
// recap first, then the artifact.
func (b *eventBatch) addOutputs(runId ids.RunId, nodeId ids.NodeId, requestAttemptId string, output *OutputInput) {
	if output == nil {
		return
	}
	var pending []event.NodeOutputAppendedData
	index := 0
	if output.Notes != "" {
		pending = append(pending, event.NodeOutputAppendedData{
			OutputId: deriveOutputId(string(nodeId), requestAttemptId, index),
			Channel:  event.ChannelRecap,
			Payload:  event.OutputPayload{Kind: event.PayloadNotes, Notes: output.Notes},
		})
		index++
	}
	if output.ArtifactRef != nil {
		pending = append(pending, event.NodeOutputAppendedData{
			OutputId: deriveOutputId(string(nodeId), requestAttemptId, index),
			Channel:  event.ChannelArtifact,
			Payload:  event.OutputPayload{Kind: event.PayloadArtifactRef, ArtifactRef: output.ArtifactRef},
		})
	}
	for _, o := range event.NormalizeOutputOrder(pending) {
		b.add(event.KindNodeOutputAppended, &event.Scope{RunId: runId, NodeId: nodeId}, nodeOutputAppendedDedupeKey(string(nodeId), o.OutputId), o)
	}
}

func (b *eventBatch) addNodeCreated(runId ids.RunId, nodeId ids.NodeId, data event.NodeCreatedData, snapshotRef ids.SnapshotRef) {
	data.CreatedAtIndex = b.nextIndex
	data.SnapshotRef = snapshotRef
	eventId := b.add(event.KindNodeCreated, &event.Scope{RunId: runId, NodeId: nodeId}, nodeCreatedDedupeKey(string(nodeId)), data)
	if b.err == nil {
		b.pinRef, b.pinIndex, b.pinEventId, b.hasPin = snapshotRef, data.CreatedAtIndex, eventId, true
	}
}

func (b *eventBatch) plan() (sessionstore.AppendPlan, error) {
	if b.err != nil {
		return sessionstore.AppendPlan{}, b.err
	}
	plan := sessionstore.AppendPlan{Events: b.events}
	if b.hasPin {
		plan.SnapshotPins = []sessionstore.SnapshotPin{{SnapshotRef: b.pinRef, EventIndex: b.pinIndex, CreatedByEventId: b.pinEventId}}
	}
	return plan, nil
}

// recordBlock commits a blocked_attempt node off currentNode with no
// outgoing edge and a terminal advance_recorded{retryable_block |
// terminal_block} (§4.7.9). A USER_ONLY_DEPENDENCY or unavailable
// capability reason makes the block terminal; every other reason is
// retryable.
func (e *Engine) recordBlock(ctx context.Context, lock *sessionstore.HealthyLock, statePayload token.Payload, requestAttemptId string, nextIndex int,
	currentNode *projection.Node, run *projection.Run, currentSnapshot event.ExecutionSnapshot, req ContinueRequest, reasons []event.Reason) (*ContinueResponse, error) {

	retryable := true
	for _, r := range reasons {
		if r.Code == event.BlockerUserOnlyDependency || r.Code == event.BlockerRequiredCapabilityUnavailable {
			retryable = false
		}
	}

	blockers := reasonsToBlockers(reasons, e.opts.MaxBlockers)
	for _, b := range blockers {
		e.metrics.ObserveBlocker(string(b.Code))
	}

	blockKind := event.BlockKindTerminal
	if retryable {
		blockKind = event.BlockKindRetryable
	}
	blockPayload := &event.BlockPayload{Kind: blockKind, Blockers: blockers}
	if len(blockers) > 0 {
		blockPayload.Reason = blockers[0].Message
	}

	blockedNodeId := deriveNodeId(string(currentNode.NodeId), requestAttemptId, "blocked")

	var retryAttemptId ids.AttemptId
	if retryable {
		retryAttemptId = ids.DeriveChildAttemptId(ids.AttemptId(requestAttemptId))
		blockPayload.RetryAttemptId = retryAttemptId
	}

	blockedSnapshot := event.ExecutionSnapshot{
		Kind:      event.EngineStateBlocked,
		Completed: currentSnapshot.Completed,
		LoopStack: currentSnapshot.LoopStack,
		Pending:   currentSnapshot.Pending,
		Blocked:   blockPayload,
	}
	if err := blockedSnapshot.Validate(); err != nil {
		return nil, internalError("blocked snapshot invariant", err)
	}
	snapshotRef, err := e.snapshots.Put(ctx, blockedSnapshot)
	if err != nil {
		return nil, internalError("store blocked snapshot", err)
	}

	batch := newEventBatch(e, statePayload.SessionId, nextIndex)
	batch.addContextSet(run.RunId, currentNode.NodeId, req.Context)
	if req.Output != nil {
		batch.addOutputs(run.RunId, currentNode.NodeId, requestAttemptId, req.Output)
	}
	if len(reasons) > 0 {
		batch.add(event.KindValidationPerformed, &event.Scope{RunId: run.RunId, NodeId: currentNode.NodeId},
			validationPerformedDedupeKey(string(currentNode.NodeId), requestAttemptId),
			event.ValidationPerformedData{Outcome: event.ValidationInvalid})
	}

	parentNodeId := currentNode.NodeId
	batch.addNodeCreated(run.RunId, blockedNodeId, event.NodeCreatedData{
		NodeId: blockedNodeId, NodeKind: event.NodeKindBlockedAttempt, ParentNodeId: &parentNodeId,
		StepId: currentSnapshot.Pending.StepId,
	}, ids.SnapshotRef(snapshotRef))

	outcomeCode := event.OutcomeRetryableBlock
	if !retryable {
		outcomeCode = event.OutcomeTerminalBlock
	}
	batch.add(event.KindAdvanceRecorded, &event.Scope{RunId: run.RunId, NodeId: blockedNodeId},
		advanceRecordedDedupeKey(requestAttemptId), event.AdvanceRecordedData{Outcome: outcomeCode, AttemptId: requestAttemptId})

	plan, err := batch.plan()
	if err != nil {
		return nil, internalError("build blocked event batch", err)
	}
	if err := e.appendPlan(ctx, lock, statePayload.SessionId, plan); err != nil {
		return nil, err
	}

	stateToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindState, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: blockedNodeId,
		WorkflowHashRef: statePayload.WorkflowHashRef,
	})
	if err != nil {
		return nil, internalError("mint state token", err)
	}

	var ackToken string
	if retryable {
		ackToken, err = token.Sign(e.keyring, token.Payload{
			Kind: token.KindAck, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: blockedNodeId,
			AttemptId: retryAttemptId,
		})
		if err != nil {
			return nil, internalError("mint ack token", err)
		}
	}

	prefs := event.Preferences{Autonomy: event.Autonomy(e.opts.DefaultAutonomy), RiskPolicy: event.RiskBalanced}
	return &ContinueResponse{
		StateToken: stateToken, AckToken: ackToken, NextIntent: NextIntentAdvance,
		Pending: currentSnapshot.Pending, Blocked: blockPayload, Preferences: prefs,
	}, nil
}

// recordAdvance commits the successful-advance path: the new step (or
// completion) node, its edge back to currentNode, and a terminal
// advance_recorded{advanced|completed} (§4.7.9).
func (e *Engine) recordAdvance(ctx context.Context, lock *sessionstore.HealthyLock, statePayload token.Payload, requestAttemptId string, nextIndex int, priorEvents []event.Envelope,
	currentNode *projection.Node, run *projection.Run, step *Step, currentSnapshot event.ExecutionSnapshot, req ContinueRequest,
	isRetry bool, outcome event.ValidationOutcome, contractRef string, warnings []event.Reason) (*ContinueResponse, error) {

	completed := append(append([]string{}, currentSnapshot.Completed...), string(event.NewPendingKey(*currentSnapshot.Pending)))
	sort.Strings(completed)

	var newSnapshot event.ExecutionSnapshot
	if step.NextStepId == "" {
		newSnapshot = event.ExecutionSnapshot{Kind: event.EngineStateComplete, Completed: completed, LoopStack: currentSnapshot.LoopStack}
	} else {
		newSnapshot = event.ExecutionSnapshot{
			Kind: event.EngineStateRunning, Completed: completed, LoopStack: currentSnapshot.LoopStack,
			Pending: &event.PendingStep{StepId: step.NextStepId, LoopPath: currentSnapshot.LoopStack},
		}
	}
	if err := newSnapshot.Validate(); err != nil {
		return nil, internalError("advanced snapshot invariant", err)
	}
	snapshotRef, err := e.snapshots.Put(ctx, newSnapshot)
	if err != nil {
		return nil, internalError("store advanced snapshot", err)
	}

	newNodeId := deriveNodeId(string(currentNode.NodeId), requestAttemptId, "step")

	cause := event.CauseNonTipAdvance
	if currentNode.NodeId != run.PreferredTipNodeId {
		cause = event.CauseIntentionalFork
	}

	batch := newEventBatch(e, statePayload.SessionId, nextIndex)
	batch.addContextSet(run.RunId, currentNode.NodeId, req.Context)
	if req.Output != nil {
		batch.addOutputs(run.RunId, currentNode.NodeId, requestAttemptId, req.Output)
	}
	if isRetry && outcome == event.ValidationSatisfied {
		batch.add(event.KindValidationPerformed, &event.Scope{RunId: run.RunId, NodeId: currentNode.NodeId},
			validationPerformedDedupeKey(string(currentNode.NodeId), requestAttemptId),
			event.ValidationPerformedData{Outcome: outcome, ContractRef: contractRef})
	}
	for i, w := range warnings {
		gapId := deriveGapId(string(currentNode.NodeId), requestAttemptId, string(w.Code)+string(rune('a'+i)))
		batch.add(event.KindGapRecorded, &event.Scope{RunId: run.RunId, NodeId: currentNode.NodeId},
			gapRecordedDedupeKey(string(currentNode.NodeId), gapId),
			event.GapRecordedData{GapId: gapId, Severity: event.GapWarning, Category: event.GapCapabilityMissing, Message: w.Detail, Unresolved: true})
	}

	parentNodeId := currentNode.NodeId
	batch.addNodeCreated(run.RunId, newNodeId, event.NodeCreatedData{
		NodeId: newNodeId, NodeKind: event.NodeKindStep, ParentNodeId: &parentNodeId, StepId: step.NextStepId,
	}, ids.SnapshotRef(snapshotRef))
	batch.add(event.KindEdgeCreated, &event.Scope{RunId: run.RunId, NodeId: newNodeId},
		edgeCreatedDedupeKey(string(currentNode.NodeId), string(newNodeId)),
		event.EdgeCreatedData{FromNodeId: currentNode.NodeId, ToNodeId: newNodeId, EdgeKind: event.EdgeKindAckedStep, Cause: cause})

	outcomeCode := event.OutcomeAdvanced
	if step.NextStepId == "" {
		outcomeCode = event.OutcomeCompleted
	}
	batch.add(event.KindAdvanceRecorded, &event.Scope{RunId: run.RunId, NodeId: newNodeId},
		advanceRecordedDedupeKey(requestAttemptId), event.AdvanceRecordedData{Outcome: outcomeCode, AttemptId: requestAttemptId})

	plan, err := batch.plan()
	if err != nil {
		return nil, internalError("build advance event batch", err)
	}
	if err := e.appendPlan(ctx, lock, statePayload.SessionId, plan); err != nil {
		return nil, err
	}

	workspacePath, gitBranch, gitHeadSha := sessionObservations(priorEvents)
	e.recordResumeActivity(ctx, statePayload.SessionId, workspacePath, gitBranch, gitHeadSha, batch.nextIndex-1)

	stateToken, err := token.Sign(e.keyring, token.Payload{
		Kind: token.KindState, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: newNodeId,
		WorkflowHashRef: statePayload.WorkflowHashRef,
	})
	if err != nil {
		return nil, internalError("mint state token", err)
	}

	var ackToken string
	nextIntent := NextIntentRehydrateOnly
	if newSnapshot.Pending != nil {
		nextIntent = NextIntentAdvance
		freshAttemptId := deriveInitialAttemptId(string(newNodeId))
		ackToken, err = token.Sign(e.keyring, token.Payload{
			Kind: token.KindAck, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: newNodeId,
			AttemptId: freshAttemptId,
		})
		if err != nil {
			return nil, internalError("mint ack token", err)
		}
	}

	var checkpointToken string
	if newSnapshot.Pending != nil {
		checkpointToken, err = token.Sign(e.keyring, token.Payload{
			Kind: token.KindCheckpoint, SessionId: statePayload.SessionId, RunId: statePayload.RunId, NodeId: newNodeId,
		})
		if err != nil {
			return nil, internalError("mint checkpoint token", err)
		}
	}

	prefs := event.Preferences{Autonomy: event.Autonomy(e.opts.DefaultAutonomy), RiskPolicy: event.RiskBalanced}
	return &ContinueResponse{
		StateToken: stateToken, AckToken: ackToken, CheckpointToken: checkpointToken, NextIntent: nextIntent,
		Pending: newSnapshot.Pending, Preferences: prefs,
	}, nil
}

func reasonsToBlockers(reasons []event.Reason, maxBlockers int) []event.Blocker {
	if maxBlockers <= 0 {
		maxBlockers = DefaultMaxBlockers
	}
	seen := map[string]bool{}
	blockers := make([]event.Blocker, 0, len(reasons))
	for _, r := range reasons {
		key := string(r.Code) + "|" + r.Pointer.Kind + "|" + r.Pointer.Ref
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(blockers) >= maxBlockers {
			break
		}
		msg := r.Detail
		if len(msg) > event.MaxBlockerMessageBytes {
			msg = msg[:event.MaxBlockerMessageBytes]
		}
		blockers = append(blockers, event.Blocker{Code: r.Code, Pointer: r.Pointer, Message: msg})
	}
	return blockers
}
