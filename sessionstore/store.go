// Package sessionstore implements the durable, crash-safe storage layer
// for a session's event log, manifest, lock, and content-addressed
// snapshot/workflow stores (§4.3-4.5).
package sessionstore

import (
	"fmt"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// ErrorCode is the closed set of session-store failure codes.
type ErrorCode string

const (
	CodeLockBusy           ErrorCode = "SESSION_STORE_LOCK_BUSY"
	CodeIOError            ErrorCode = "SESSION_STORE_IO_ERROR"
	CodeCorruptionDetected ErrorCode = "SESSION_STORE_CORRUPTION_DETECTED"
	CodeInvariantViolation ErrorCode = "SESSION_STORE_INVARIANT_VIOLATION"
	CodeSnapshotCorruption ErrorCode = "SNAPSHOT_STORE_CORRUPTION_DETECTED"
	CodeSessionLockBusy    ErrorCode = "SESSION_LOCK_BUSY"
)

// CorruptionLocation distinguishes where in the log a corruption was found.
type CorruptionLocation string

const (
	LocationHead CorruptionLocation = "head"
	LocationTail CorruptionLocation = "tail"
)

// StoreError is the typed, closed-code error every sessionstore operation
// returns; no exception crosses the store boundary.
type StoreError struct {
	Code     ErrorCode
	Message  string
	Location CorruptionLocation // set only for CodeCorruptionDetected
	RetryMs  int                // set only for CodeLockBusy / CodeSessionLockBusy
	Err      error
}

func (e *StoreError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AppendPlan is the unit of atomic commit: a contiguous run of events plus
// any snapshot/workflow pins they create. Every event in the plan shares
// one atomic append (§4.3).
type AppendPlan struct {
	Events       []event.Envelope
	SnapshotPins []SnapshotPin
}

// SnapshotPin records that an execution snapshot is reachable from a
// specific event, so it is never garbage and never attested before its
// owning segment closes.
type SnapshotPin struct {
	SnapshotRef      ids.SnapshotRef
	EventIndex       int
	CreatedByEventId ids.EventId
}

// ManifestRecord is one append-only line of the manifest control stream.
type ManifestRecord struct {
	Kind string `json:"kind"`

	// segment_opened / segment_closed
	SegmentIndex   *int   `json:"segmentIndex,omitempty"`
	FromEventIndex *int   `json:"fromEventIndex,omitempty"`
	ToEventIndex   *int   `json:"toEventIndex,omitempty"`
	Sha256         string `json:"sha256,omitempty"`
	Bytes          *int   `json:"bytes,omitempty"`

	// snapshot_pinned
	SnapshotRef      string `json:"snapshotRef,omitempty"`
	EventIndex       *int   `json:"eventIndex,omitempty"`
	CreatedByEventId string `json:"createdByEventId,omitempty"`
}

const (
	manifestKindSegmentOpened  = "segment_opened"
	manifestKindSegmentClosed  = "segment_closed"
	manifestKindSnapshotPinned = "snapshot_pinned"
)

// Health is the closed set of session health outcomes (§3.9).
type Health string

const (
	HealthHealthy        Health = "healthy"
	HealthCorruptTail    Health = "corrupt_tail"
	HealthCorruptHead    Health = "corrupt_head"
	HealthUnknownVersion Health = "unknown_version"
)

// HealthReason is the closed set of reasons a session is unhealthy.
type HealthReason string

const (
	ReasonDigestMismatch         HealthReason = "digest_mismatch"
	ReasonNonContiguousIndices   HealthReason = "non_contiguous_indices"
	ReasonMissingAttestedSegment HealthReason = "missing_attested_segment"
	ReasonUnknownSchemaVersion   HealthReason = "unknown_schema_version"
	ReasonSchemaValidationFailed HealthReason = "schema_validation_failed"
)

// LoadResult is what EventLog.Load returns: either the full
// validated log, or a truncated prefix with the reason truth stopped.
type LoadResult struct {
	Events     []event.Envelope
	Manifest   []ManifestRecord
	Truncated  bool
	TailReason HealthReason
}
