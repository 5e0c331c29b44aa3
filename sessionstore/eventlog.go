package sessionstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/workrail/canon"
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/fsio"
)

// EventLog is the durable, append-only event store for one session:
// ordered segment files plus the manifest control stream that attests
// them (§4.3).
type EventLog struct {
	fsys       fsio.FileSystem
	sessionDir string
}

// NewEventLog opens the event log rooted at sessionDir. It performs no I/O
// itself; callers call Load or Append.
func NewEventLog(fsys fsio.FileSystem, sessionDir string) *EventLog {
	return &EventLog{fsys: fsys, sessionDir: sessionDir}
}

func (l *EventLog) eventsDir() string    { return l.sessionDir + "/events" }
func (l *EventLog) manifestPath() string { return l.sessionDir + "/manifest.jsonl" }

func segmentPath(eventsDir string, index int) string {
	return fmt.Sprintf("%s/segment.%d.jsonl", eventsDir, index)
}

// Load replays the manifest and validates every attested segment,
// returning the full event history or, on the first corruption
// encountered, the longest validated prefix (§4.3).
// Load never mutates the store; it is read-only.
func (l *EventLog) Load(ctx context.Context) (LoadResult, error) {
	raw, err := l.fsys.ReadFile(ctx, l.manifestPath())
	if errors.Is(err, fsio.ErrNotExist) {
		return LoadResult{}, nil
	}
	if err != nil {
		return LoadResult{}, &StoreError{Code: CodeIOError, Message: "read manifest", Err: err}
	}

	records, err := parseManifest(raw)
	if err != nil {
		return LoadResult{}, &StoreError{Code: CodeIOError, Message: "parse manifest", Err: err}
	}

	var events []event.Envelope
	expectedNext := 0

	for _, rec := range records {
		if rec.Kind != manifestKindSegmentClosed {
			continue
		}
		if rec.SegmentIndex == nil || rec.FromEventIndex == nil || rec.ToEventIndex == nil {
			return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonSchemaValidationFailed}, nil
		}
		if *rec.FromEventIndex != expectedNext {
			return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonNonContiguousIndices}, nil
		}

		path := segmentPath(l.eventsDir(), *rec.SegmentIndex)
		segBytes, err := l.fsys.ReadFile(ctx, path)
		if err != nil {
			return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonMissingAttestedSegment}, nil
		}
		if canon.Sha256Hex(segBytes) != rec.Sha256 {
			return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonDigestMismatch}, nil
		}

		segEvents, err := parseSegment(segBytes)
		if err != nil {
			return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonSchemaValidationFailed}, nil
		}
		for _, ev := range segEvents {
			if ev.V != event.SchemaVersion {
				return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonUnknownSchemaVersion}, nil
			}
			if err := ev.Validate(); err != nil {
				return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonSchemaValidationFailed}, nil
			}
			if ev.EventIndex != expectedNext {
				return LoadResult{Events: events, Manifest: records, Truncated: true, TailReason: ReasonNonContiguousIndices}, nil
			}
			events = append(events, ev)
			expectedNext++
		}
	}

	return LoadResult{Events: events, Manifest: records}, nil
}

// Append commits plan atomically: either every event's dedupeKey is already
// present (idempotent no-op) or none of them are (fresh commit). Requires a
// HealthyLock witness, making "writes only occur on healthy sessions under
// an exclusive lock" a compile-time property (§4.5).
func (l *EventLog) Append(ctx context.Context, lock *HealthyLock, plan AppendPlan) error {
	if lock == nil {
		return &StoreError{Code: CodeInvariantViolation, Message: "append requires a HealthyLock witness"}
	}
	if len(plan.Events) == 0 {
		return nil
	}

	current, err := l.Load(ctx)
	if err != nil {
		return err
	}
	if current.Truncated {
		return &StoreError{Code: CodeCorruptionDetected, Location: LocationTail, Message: string(current.TailReason)}
	}

	existingDedupe := make(map[string]bool, len(current.Events))
	for _, ev := range current.Events {
		existingDedupe[ev.DedupeKey] = true
	}
	present := 0
	for _, ev := range plan.Events {
		if existingDedupe[ev.DedupeKey] {
			present++
		}
	}
	if present == len(plan.Events) {
		return nil // idempotent replay: identical batch already committed
	}
	if present != 0 {
		return &StoreError{Code: CodeInvariantViolation, Message: "partial dedupeKey overlap between plan and durable truth"}
	}

	tailIndex := -1
	if len(current.Events) > 0 {
		tailIndex = current.Events[len(current.Events)-1].EventIndex
	}
	for i, ev := range plan.Events {
		if ev.EventIndex != tailIndex+1+i {
			return &StoreError{Code: CodeInvariantViolation, Message: fmt.Sprintf("event %d has eventIndex %d, want %d", i, ev.EventIndex, tailIndex+1+i)}
		}
		if err := ev.Validate(); err != nil {
			return &StoreError{Code: CodeInvariantViolation, Message: err.Error()}
		}
	}

	if err := l.fsys.MkdirAll(ctx, l.eventsDir()); err != nil {
		return &StoreError{Code: CodeIOError, Message: "mkdirp events dir", Err: err}
	}

	segmentIndex := countClosedSegments(current.Manifest)
	var buf bytes.Buffer
	for _, ev := range plan.Events {
		line, err := json.Marshal(ev)
		if err != nil {
			return &StoreError{Code: CodeInvariantViolation, Message: "marshal event", Err: err}
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	segBytes := buf.Bytes()

	path := segmentPath(l.eventsDir(), segmentIndex)
	if err := l.fsys.WriteFileSync(ctx, path, segBytes); err != nil {
		if errors.Is(err, fsio.ErrFsyncUnsupported) {
			return &StoreError{Code: CodeIOError, Message: "fsync not supported, durability cannot be relaxed", Err: err}
		}
		return &StoreError{Code: CodeIOError, Message: "write segment", Err: err}
	}

	from := tailIndex + 1
	to := plan.Events[len(plan.Events)-1].EventIndex
	segBytesLen := len(segBytes)
	closedRec := ManifestRecord{
		Kind:           manifestKindSegmentClosed,
		SegmentIndex:   &segmentIndex,
		FromEventIndex: &from,
		ToEventIndex:   &to,
		Sha256:         canon.Sha256Hex(segBytes),
		Bytes:          &segBytesLen,
	}
	if err := l.appendManifestRecord(ctx, closedRec); err != nil {
		return err
	}

	for _, pin := range plan.SnapshotPins {
		idx := pin.EventIndex
		pinRec := ManifestRecord{
			Kind:             manifestKindSnapshotPinned,
			SnapshotRef:      string(pin.SnapshotRef),
			EventIndex:       &idx,
			CreatedByEventId: string(pin.CreatedByEventId),
		}
		if err := l.appendManifestRecord(ctx, pinRec); err != nil {
			return err
		}
	}

	return nil
}

func (l *EventLog) appendManifestRecord(ctx context.Context, rec ManifestRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return &StoreError{Code: CodeInvariantViolation, Message: "marshal manifest record", Err: err}
	}
	if err := l.fsys.AppendLineSync(ctx, l.manifestPath(), line); err != nil {
		if errors.Is(err, fsio.ErrFsyncUnsupported) {
			return &StoreError{Code: CodeIOError, Message: "fsync not supported, durability cannot be relaxed", Err: err}
		}
		return &StoreError{Code: CodeIOError, Message: "append manifest record", Err: err}
	}
	return nil
}

func countClosedSegments(records []ManifestRecord) int {
	n := 0
	for _, r := range records {
		if r.Kind == manifestKindSegmentClosed {
			n++
		}
	}
	return n
}

func parseManifest(raw []byte) ([]ManifestRecord, error) {
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	records := make([]ManifestRecord, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var rec ManifestRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseSegment(raw []byte) ([]event.Envelope, error) {
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	events := make([]event.Envelope, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var ev event.Envelope
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].EventIndex < events[j].EventIndex })
	return events, nil
}
