package event

import "github.com/dshills/workrail/ids"

// EngineStateKind discriminates the ExecutionSnapshot union.
type EngineStateKind string

const (
	EngineStateInit    EngineStateKind = "init"
	EngineStateRunning EngineStateKind = "running"
	EngineStateBlocked EngineStateKind = "blocked"
	EngineStateComplete EngineStateKind = "complete"
)

// LoopFrame is one entry of an in-progress loop stack. LoopId is unique
// within a snapshot's loopStack.
type LoopFrame struct {
	LoopId    string `json:"loopId"`
	Iteration int    `json:"iteration"`
	BodyIndex int     `json:"bodyIndex"`
}

// PendingStep names the step the agent must execute next, or "none" when
// there isn't one (Pending == nil).
type PendingStep struct {
	StepId   string      `json:"stepId"`
	LoopPath []LoopFrame `json:"loopPath"`
}

// BlockKind discriminates a blocked snapshot's retry-ability.
type BlockKind string

const (
	BlockKindRetryable BlockKind = "retryable_block"
	BlockKindTerminal  BlockKind = "terminal_block"
)

// BlockPayload is the "blocked" field of a blocked ExecutionSnapshot.
type BlockPayload struct {
	Kind          BlockKind       `json:"kind"`
	Reason        string          `json:"reason"`
	RetryAttemptId ids.AttemptId  `json:"retryAttemptId,omitempty"`
	ValidationRef string          `json:"validationRef,omitempty"`
	Blockers      []Blocker       `json:"blockers"`
}

// ExecutionSnapshot captures exactly what is needed to resume a run
// deterministically. It is a discriminated union on Kind; fields not
// relevant to Kind are left zero.
type ExecutionSnapshot struct {
	Kind      EngineStateKind `json:"kind"`
	Completed []string        `json:"completed,omitempty"` // sorted StepInstanceKey values
	LoopStack []LoopFrame     `json:"loopStack,omitempty"`
	Pending   *PendingStep    `json:"pending,omitempty"`
	Blocked   *BlockPayload   `json:"blocked,omitempty"`
}

// Validate enforces the cross-field invariants of §3.4: pending.loopPath
// must mirror loopStack exactly, and a step instance cannot be both
// completed and pending.
func (s ExecutionSnapshot) Validate() error {
	if s.Kind != EngineStateRunning && s.Kind != EngineStateBlocked {
		return nil
	}
	if s.Pending != nil {
		if len(s.Pending.LoopPath) != len(s.LoopStack) {
			return &SchemaError{Msg: "pending.loopPath must mirror loopStack"}
		}
		for i, f := range s.Pending.LoopPath {
			if f != s.LoopStack[i] {
				return &SchemaError{Msg: "pending.loopPath must mirror loopStack"}
			}
		}
		key := string(NewPendingKey(*s.Pending))
		for _, c := range s.Completed {
			if c == key {
				return &SchemaError{Msg: "step instance cannot be both completed and pending"}
			}
		}
	}
	return nil
}

// NewPendingKey derives the StepInstanceKey a PendingStep corresponds to.
func NewPendingKey(p PendingStep) ids.StepInstanceKey {
	frames := make([]ids.LoopFrame, len(p.LoopPath))
	for i, f := range p.LoopPath {
		frames[i] = ids.LoopFrame{LoopId: f.LoopId, Iteration: f.Iteration}
	}
	return ids.NewStepInstanceKey(p.StepId, frames)
}

// BlockerCode is the closed set of reported blocker codes.
type BlockerCode string

const (
	BlockerUserOnlyDependency        BlockerCode = "USER_ONLY_DEPENDENCY"
	BlockerMissingRequiredOutput     BlockerCode = "MISSING_REQUIRED_OUTPUT"
	BlockerInvalidRequiredOutput     BlockerCode = "INVALID_REQUIRED_OUTPUT"
	BlockerMissingRequiredNotes      BlockerCode = "MISSING_REQUIRED_NOTES"
	BlockerMissingContextKey         BlockerCode = "MISSING_CONTEXT_KEY"
	BlockerContextBudgetExceeded     BlockerCode = "CONTEXT_BUDGET_EXCEEDED"
	BlockerRequiredCapabilityUnknown BlockerCode = "REQUIRED_CAPABILITY_UNKNOWN"
	BlockerRequiredCapabilityUnavailable BlockerCode = "REQUIRED_CAPABILITY_UNAVAILABLE"
	BlockerInvariantViolation        BlockerCode = "INVARIANT_VIOLATION"
	BlockerStorageCorruptionDetected BlockerCode = "STORAGE_CORRUPTION_DETECTED"
)

// PointerKind discriminates what a Blocker's Pointer refers to.
type PointerKind string

const (
	PointerContextKey     PointerKind = "context_key"
	PointerContextBudget  PointerKind = "context_budget"
	PointerOutputContract PointerKind = "output_contract"
	PointerCapability     PointerKind = "capability"
	PointerWorkflowStep   PointerKind = "workflow_step"
)

// BlockerPointer identifies the specific thing a blocker is about.
type BlockerPointer struct {
	Kind PointerKind `json:"kind"`
	Ref  string      `json:"ref"`
}

// Blocker is the externally reported, bounded form of a blocking reason.
// At most MaxBlockers may be attached to a blocked snapshot.
type Blocker struct {
	Code         BlockerCode    `json:"code"`
	Pointer      BlockerPointer `json:"pointer"`
	Message      string         `json:"message"`
	SuggestedFix string         `json:"suggestedFix,omitempty"`
}

// MaxBlockers is the hard cap on blockers attached to one blocked snapshot.
const MaxBlockers = 10

// MaxBlockerMessageBytes bounds a blocker's message, measured in UTF-8 bytes.
const MaxBlockerMessageBytes = 2048

// ReasonKind mirrors BlockerCode but as the richer internal form consumed
// by projections before being reduced to the external Blocker shape.
type ReasonKind = BlockerCode

// Reason is the internal, richer form of a blocking reason computed during
// blocking detection, before being capped and reduced to Blockers.
type Reason struct {
	Code    ReasonKind
	Pointer BlockerPointer
	Detail  string
}

// GapSeverity is the closed set of gap severities.
type GapSeverity string

const (
	GapInfo     GapSeverity = "info"
	GapWarning  GapSeverity = "warning"
	GapCritical GapSeverity = "critical"
)

// GapCategory is the closed set of gap categories.
type GapCategory string

const (
	GapUserOnlyDependency GapCategory = "user_only_dependency"
	GapContractViolation  GapCategory = "contract_violation"
	GapCapabilityMissing  GapCategory = "capability_missing"
	GapUnexpected         GapCategory = "unexpected"
)

// GapRecordedData is the payload of a gap_recorded event. Records are
// append-only; the latest record for a GapId wins in projection.
type GapRecordedData struct {
	GapId      string      `json:"gapId"`
	Severity   GapSeverity `json:"severity"`
	Category   GapCategory `json:"category"`
	Message    string      `json:"message"`
	Resolves   string      `json:"resolves,omitempty"`
	Unresolved bool        `json:"unresolved"`
}
