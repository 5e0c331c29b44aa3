package engine

import (
	"fmt"

	"github.com/dshills/workrail/canon"
)

// dedupeKey derives the deterministic dedupeKey for one event's logical
// identity: replaying the exact same call produces byte-identical keys,
// so EventLog.Append's dedupeKey-set-equality check makes the whole batch
// an idempotent no-op on replay (§4.7.9, §8 "Idempotent replay").
//
// kind scopes the hash so that two different event kinds sharing an
// accidental identity tuple never collide; parts is the ordered tuple of
// values that together determine "this is logically the same event".
func dedupeKey(kind string, parts ...interface{}) string {
	ref, _, err := canon.ContentAddress(append([]interface{}{kind}, parts...))
	if err != nil {
		// parts are always engine-internal, already-validated values
		// (ids, strings, small maps); a canonicalization failure here
		// means a caller passed something JCS cannot represent, which is
		// a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("engine: dedupeKey: %v", err))
	}
	return ref
}

func contextSetDedupeKey(nodeId string, context map[string]interface{}) string {
	return dedupeKey("context_set", nodeId, context)
}

func nodeOutputAppendedDedupeKey(nodeId string, outputId string) string {
	return dedupeKey("node_output_appended", nodeId, outputId)
}

func validationPerformedDedupeKey(nodeId string, attemptId string) string {
	return dedupeKey("validation_performed", nodeId, attemptId)
}

func gapRecordedDedupeKey(nodeId string, gapId string) string {
	return dedupeKey("gap_recorded", nodeId, gapId)
}

func decisionTraceDedupeKey(nodeId string, attemptId string) string {
	return dedupeKey("decision_trace_appended", nodeId, attemptId)
}

func nodeCreatedDedupeKey(nodeId string) string {
	return dedupeKey("node_created", nodeId)
}

func edgeCreatedDedupeKey(fromNodeId, toNodeId string) string {
	return dedupeKey("edge_created", fromNodeId, toNodeId)
}

func advanceRecordedDedupeKey(attemptId string) string {
	return dedupeKey("advance_recorded", attemptId)
}

func sessionCreatedDedupeKey(sessionId string) string {
	return dedupeKey("session_created", sessionId)
}

func runStartedDedupeKey(runId string) string {
	return dedupeKey("run_started", runId)
}

func observationRecordedDedupeKey(sessionId, key, value string) string {
	return dedupeKey("observation_recorded", sessionId, key, value)
}
