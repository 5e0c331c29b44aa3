// Package ids defines the branded identifier types used across the engine
// and the factory that mints them.
//
// Every identifier is a distinct string newtype so that a SessionId can
// never be passed where a RunId is expected, even though both are plain
// strings underneath. All identifiers share one character class,
// [a-z0-9_-]+, and never contain ':', '/', or '@' so they are safe to
// embed in file paths, manifest lines, and token payloads without escaping.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// charClass is the delimiter-safe character class every identifier must
// satisfy, after stripping its prefix.
var charClass = regexp.MustCompile(`^[a-z0-9_-]+$`)

// SessionId identifies a session for its entire lifetime.
type SessionId string

// RunId identifies one run (attempt at executing a workflow) within a session.
type RunId string

// NodeId identifies one node in a run's DAG: a step, checkpoint, or blocked attempt.
type NodeId string

// AttemptId correlates validation/output/advance events across one attempt
// at a pending step.
type AttemptId string

// EventId uniquely identifies one domain event within a session.
type EventId string

// SnapshotRef is the content address of an execution snapshot: sha256 of
// its JCS-canonical bytes, formatted "sha256:<64-hex>".
type SnapshotRef string

// WorkflowHash is the content address of a compiled workflow revision,
// formatted "sha256:<64-hex>".
type WorkflowHash string

// WorkflowHashRef is a short opaque reference derived from a WorkflowHash,
// sized to keep tokens compact.
type WorkflowHashRef string

// Valid reports whether s matches the identifier character class, ignoring
// any "<prefix>_" segment already stripped by the caller.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	return charClass.MatchString(s)
}

// Factory mints new branded identifiers from random bytes. A Factory is
// safe for concurrent use; it holds no mutable state of its own.
type Factory struct{}

// NewFactory returns an identifier Factory.
func NewFactory() *Factory {
	return &Factory{}
}

// randomSuffix returns the base32 lower no-pad encoding of 16 random bytes.
func randomSuffix() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("ids: generate random bytes: %w", err)
	}
	b := id[:]
	return base32LowerNoPad(b), nil
}

// NewSessionId mints a fresh SessionId of the form "sess_<base32>".
func (f *Factory) NewSessionId() (SessionId, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return SessionId("sess_" + s), nil
}

// NewRunId mints a fresh RunId of the form "run_<base32>".
func (f *Factory) NewRunId() (RunId, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return RunId("run_" + s), nil
}

// NewNodeId mints a fresh NodeId of the form "node_<base32>".
func (f *Factory) NewNodeId() (NodeId, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return NodeId("node_" + s), nil
}

// NewAttemptId mints a fresh AttemptId of the form "att_<base32>".
func (f *Factory) NewAttemptId() (AttemptId, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return AttemptId("att_" + s), nil
}

// NewEventId mints a fresh EventId of the form "evt_<base32>".
func (f *Factory) NewEventId() (EventId, error) {
	s, err := randomSuffix()
	if err != nil {
		return "", err
	}
	return EventId("evt_" + s), nil
}

// base32Alphabet is the lower-case RFC 4648 base32 alphabet; encoding is
// performed without padding, matching §3.1's "base32 lower no-pad".
const base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

// base32LowerNoPad encodes b as unpadded lower-case base32.
func base32LowerNoPad(b []byte) string {
	var sb strings.Builder
	var bits uint
	var value uint32
	for _, c := range b {
		value = (value << 8) | uint32(c)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(base32Alphabet[(value>>bits)&0x1f])
		}
	}
	if bits > 0 {
		sb.WriteByte(base32Alphabet[(value<<(5-bits))&0x1f])
	}
	return sb.String()
}

// base32DecodeLowerNoPad decodes unpadded lower-case base32 text back into
// bytes, the inverse of base32LowerNoPad. It is used by the token codec to
// recover the 16 raw bytes underlying a branded identifier's text form.
func base32DecodeLowerNoPad(s string) ([]byte, error) {
	var out []byte
	var bits uint
	var value uint32
	for i := 0; i < len(s); i++ {
		idx := strings.IndexByte(base32Alphabet, s[i])
		if idx < 0 {
			return nil, fmt.Errorf("ids: invalid base32 character %q", s[i])
		}
		value = (value << 5) | uint32(idx)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(value>>bits))
		}
	}
	return out, nil
}

// suffixAfterUnderscore returns the part of id after its first "_", which
// by construction is the base32-encoded random suffix.
func suffixAfterUnderscore(id string) string {
	i := strings.IndexByte(id, '_')
	if i < 0 {
		return id
	}
	return id[i+1:]
}

// Raw16 decodes the 16 raw bytes underlying any branded identifier string
// (its base32 suffix after the "<prefix>_"), for packing into a token's
// binary payload. It fails if the decoded length is not exactly 16 bytes.
func Raw16(id string) ([16]byte, error) {
	var out [16]byte
	b, err := base32DecodeLowerNoPad(suffixAfterUnderscore(id))
	if err != nil {
		return out, err
	}
	if len(b) != 16 {
		return out, fmt.Errorf("ids: decoded identifier is %d bytes, want 16", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// FromRaw16 re-encodes 16 raw bytes as a branded identifier string with the
// given prefix (e.g. "sess", "run", "node", "att"), the inverse of Raw16
// composed with the prefixing done by the New*Id factory methods.
func FromRaw16(prefix string, b [16]byte) string {
	return prefix + "_" + base32LowerNoPad(b[:])
}

// DeriveChildAttemptId derives a deterministic retry attempt id from its
// parent so that replay of the same retry chain yields the same id. Unlike
// the factory methods, this is a pure function: no randomness, no error.
// The result is hashed rather than suffixed so it stays a valid 16-byte
// identifier, packable into a token payload via Raw16 exactly like any
// factory-minted id.
func DeriveChildAttemptId(parent AttemptId) AttemptId {
	sum := sha256.Sum256([]byte("retry:" + string(parent)))
	var raw [16]byte
	copy(raw[:], sum[:16])
	return AttemptId(FromRaw16("att", raw))
}

// workflowHashPrefix is the "sha256:" prefix every WorkflowHash carries,
// per the content-address format shared with SnapshotRef.
const workflowHashPrefix = "sha256:"

// DeriveWorkflowHashRef shortens a full WorkflowHash content address down
// to a token-compact WorkflowHashRef: the first 16 bytes of its sha256
// digest, re-encoded the same way any branded identifier is. It is a pure
// function of hash, so pinning the same workflow twice (same content,
// same WorkflowHash) always yields the same ref, and a token minted
// against it packs via Raw16 exactly like any other identifier.
func DeriveWorkflowHashRef(hash WorkflowHash) (WorkflowHashRef, error) {
	hexDigest := strings.TrimPrefix(string(hash), workflowHashPrefix)
	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return "", fmt.Errorf("ids: decode workflow hash %q: %w", hash, err)
	}
	if len(digest) < 16 {
		return "", fmt.Errorf("ids: workflow hash digest too short: %d bytes", len(digest))
	}
	var raw [16]byte
	copy(raw[:], digest[:16])
	return WorkflowHashRef(FromRaw16("whr", raw)), nil
}

// StepInstanceKey encodes a step occurrence within its loop context as
// "loopId@iter/loopId@iter::stepId", or bare "stepId" outside any loop.
type StepInstanceKey string

// LoopFrame is one entry of a StepInstanceKey's loop path.
type LoopFrame struct {
	LoopId    string
	Iteration int
}

// NewStepInstanceKey builds a StepInstanceKey from a step id and its
// (possibly empty) loop path, outermost frame first.
func NewStepInstanceKey(stepId string, loopPath []LoopFrame) StepInstanceKey {
	if len(loopPath) == 0 {
		return StepInstanceKey(stepId)
	}
	var sb strings.Builder
	for i, f := range loopPath {
		if i > 0 {
			sb.WriteByte('/')
		}
		fmt.Fprintf(&sb, "%s@%d", f.LoopId, f.Iteration)
	}
	sb.WriteString("::")
	sb.WriteString(stepId)
	return StepInstanceKey(sb.String())
}
