package event

import "sort"

// OutputChannel is the closed set of output channels a step may emit on.
type OutputChannel string

const (
	ChannelRecap    OutputChannel = "recap"
	ChannelArtifact OutputChannel = "artifact"
)

// OutputPayloadKind discriminates an OutputPayload.
type OutputPayloadKind string

const (
	PayloadNotes       OutputPayloadKind = "notes"
	PayloadArtifactRef OutputPayloadKind = "artifact_ref"
)

// OutputPayload is the sum type carried by node_output_appended: exactly one
// of Notes or ArtifactRef is set, selected by Kind.
type OutputPayload struct {
	Kind        OutputPayloadKind `json:"kind"`
	Notes       string            `json:"notes,omitempty"`
	ArtifactRef *ArtifactRef      `json:"artifactRef,omitempty"`
}

// ArtifactRef is a content-addressed blob reference carried on the artifact
// channel.
type ArtifactRef struct {
	Sha256      string `json:"sha256"`
	ContentType string `json:"contentType"`
	ByteLength  int64  `json:"byteLength"`
	Content     string `json:"content,omitempty"`
}

// NodeOutputAppendedData is the payload of a node_output_appended event.
type NodeOutputAppendedData struct {
	OutputId           string        `json:"outputId"`
	Channel             OutputChannel `json:"channel"`
	Payload             OutputPayload `json:"payload"`
	SupersedesOutputId  string        `json:"supersedesOutputId,omitempty"`
}

// NormalizeOutputOrder implements §3.7's deterministic append ordering:
// exactly one recap first (if present), then artifacts sorted ascending by
// (sha256, contentType).
func NormalizeOutputOrder(outputs []NodeOutputAppendedData) []NodeOutputAppendedData {
	var recap *NodeOutputAppendedData
	artifacts := make([]NodeOutputAppendedData, 0, len(outputs))
	for _, o := range outputs {
		if o.Channel == ChannelRecap && recap == nil {
			cp := o
			recap = &cp
			continue
		}
		artifacts = append(artifacts, o)
	}
	sort.SliceStable(artifacts, func(i, j int) bool {
		ai, aj := artifacts[i].Payload.ArtifactRef, artifacts[j].Payload.ArtifactRef
		if ai == nil || aj == nil {
			return false
		}
		if ai.Sha256 != aj.Sha256 {
			return ai.Sha256 < aj.Sha256
		}
		return ai.ContentType < aj.ContentType
	})
	result := make([]NodeOutputAppendedData, 0, len(outputs))
	if recap != nil {
		result = append(result, *recap)
	}
	result = append(result, artifacts...)
	return result
}

// CapabilityStatus is the closed set of capability availability states.
type CapabilityStatus string

const (
	CapabilityUnknown     CapabilityStatus = "unknown"
	CapabilityAvailable   CapabilityStatus = "available"
	CapabilityUnavailable CapabilityStatus = "unavailable"
)

// CapabilityObservedData is the payload of a capability_observed event.
type CapabilityObservedData struct {
	Capability string           `json:"capability"`
	Status     CapabilityStatus `json:"status"`
}

// ContextSetData is the payload of a context_set event: the merged context
// delta supplied with an advance or start call.
type ContextSetData struct {
	Context map[string]interface{} `json:"context"`
}

// ValidationOutcome is the closed set an outputRequirement classifies to.
type ValidationOutcome string

const (
	ValidationNotRequired ValidationOutcome = "not_required"
	ValidationSatisfied   ValidationOutcome = "satisfied"
	ValidationMissing     ValidationOutcome = "missing"
	ValidationInvalid     ValidationOutcome = "invalid"
)

// ValidationPerformedData is the payload of a validation_performed event,
// emitted only on retry success or any blocked outcome (never on a fresh
// successful advance, per §9 Open Question (b)).
type ValidationPerformedData struct {
	Outcome     ValidationOutcome `json:"outcome"`
	ContractRef string            `json:"contractRef,omitempty"`
}

// DecisionTraceAppendedData is the payload of a decision_trace_appended
// event: free-form structured notes from the interpreter about decisions it
// made while processing an advance.
type DecisionTraceAppendedData struct {
	Decisions []string `json:"decisions"`
}

// AdvanceOutcome is the closed set of terminal outcomes an advance_recorded
// event can carry.
type AdvanceOutcome string

const (
	OutcomeAdvanced AdvanceOutcome = "advanced"
	OutcomeRetryableBlock AdvanceOutcome = "retryable_block"
	OutcomeTerminalBlock  AdvanceOutcome = "terminal_block"
	OutcomeCompleted      AdvanceOutcome = "completed"
)

// AdvanceRecordedData is the payload of an advance_recorded event: the
// terminal event of every append batch (§4.7.9.h).
type AdvanceRecordedData struct {
	Outcome   AdvanceOutcome `json:"outcome"`
	AttemptId string         `json:"attemptId,omitempty"`
}

// SessionCreatedData is the payload of a session_created event.
type SessionCreatedData struct {
	WorkflowHash string `json:"workflowHash"`
}

// RunStartedData is the payload of a run_started event.
type RunStartedData struct {
	RootNodeId string `json:"rootNodeId"`
}

// ObservationRecordedData is the payload of an observation_recorded event,
// carrying workspace metadata such as git_head_sha/git_branch for resume
// filtering (§4.6, §4.9).
type ObservationRecordedData struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DivergenceRecordedData is the payload of a divergence_recorded event: a
// note that an agent's reported state diverged from the engine's durable
// truth (e.g. it resumed from a stale token).
type DivergenceRecordedData struct {
	Description string `json:"description"`
}
