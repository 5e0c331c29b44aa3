package engine

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dshills/workrail/ids"
)

// deriveSeed hashes parts into 32 bytes, the shared primitive behind every
// deterministic id this engine mints mid-advance. Unlike ids.Factory
// (random, used only for genuinely new entities with no deterministic
// parent — sessions and runs at start_workflow), every id minted during a
// continue_workflow call must be a pure function of the call's inputs:
// replaying the same (stateToken, ackToken, context, output) has to mint
// the same node, attempt, output, and gap ids, or the dedupeKey-based
// idempotent replay in sessionstore.EventLog.Append would commit once but
// report a different node on the replayed call (§4.7.9, §8 "Idempotent
// replay"). This generalizes ids.DeriveChildAttemptId's hash-based
// derivation from "retry chains" to every mid-advance id.
func deriveSeed(parts ...string) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// deriveNodeId derives the id of the node an advance call creates: the
// currentNodeId (from the state token) is its parent, requestAttemptId
// (from the ack token) identifies the specific call, and purpose
// distinguishes the node kinds a single call could otherwise collide on
// (a step vs. a checkpoint vs. a blocked_attempt off the same parent).
func deriveNodeId(currentNodeId, requestAttemptId, purpose string) ids.NodeId {
	seed := deriveSeed("node", currentNodeId, requestAttemptId, purpose)
	var raw [16]byte
	copy(raw[:], seed[:16])
	return ids.NodeId(ids.FromRaw16("node", raw))
}

// deriveInitialAttemptId derives the first attempt id a freshly created
// node starts at. Later attempts on the same node (retries) chain off this
// one via ids.DeriveChildAttemptId, never re-derive from scratch.
func deriveInitialAttemptId(nodeId string) ids.AttemptId {
	seed := deriveSeed("att", nodeId)
	var raw [16]byte
	copy(raw[:], seed[:16])
	return ids.AttemptId(ids.FromRaw16("att", raw))
}

// deriveOutputId derives the outputId for the index-th output supplied in
// one advance call against nodeId/requestAttemptId. Inputs arrive in
// event.NormalizeOutputOrder's deterministic order, so the index is itself
// a deterministic coordinate.
func deriveOutputId(nodeId, requestAttemptId string, index int) string {
	seed := deriveSeed("output", nodeId, requestAttemptId, hex.EncodeToString([]byte{byte(index)}))
	return hex.EncodeToString(seed[:16])
}

// deriveGapId derives the gapId for one suppressed blocking reason
// (full_auto_never_stop) or recommendation-exceedance warning recorded
// against nodeId/requestAttemptId/code.
func deriveGapId(nodeId, requestAttemptId, code string) string {
	seed := deriveSeed("gap", nodeId, requestAttemptId, code)
	return hex.EncodeToString(seed[:16])
}
