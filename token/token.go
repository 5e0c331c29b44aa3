// Package token implements the opaque signed token codec: bech32m outer
// encoding over a compact fixed-order binary payload, HMAC-SHA-256
// authenticated by the keyring. Tokens carry no mutable state; they are
// references into durable truth (§3.8, §4.2).
package token

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/keyring"
)

// Kind is the closed set of token kinds.
type Kind uint8

const (
	KindState      Kind = 1
	KindAck        Kind = 2
	KindCheckpoint Kind = 3
)

// hrp returns the kind's bech32m human-readable prefix.
func (k Kind) hrp() (string, error) {
	switch k {
	case KindState:
		return "st", nil
	case KindAck:
		return "ack", nil
	case KindCheckpoint:
		return "chk", nil
	default:
		return "", &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("unknown token kind %d", k)}
	}
}

// TokenVersion is the only payload version this codec emits or accepts.
const TokenVersion uint8 = 1

// Payload is the decoded inner content of a token, before signing/after
// verification.
type Payload struct {
	TokenVersion    uint8
	Kind            Kind
	SessionId       ids.SessionId
	RunId           ids.RunId
	NodeId          ids.NodeId
	AttemptId       ids.AttemptId       // optional; empty means absent
	WorkflowHashRef ids.WorkflowHashRef // optional; empty means absent
}

// ErrorCode is the closed set of token verification failure codes.
type ErrorCode string

const (
	CodeInvalidFormat ErrorCode = "TOKEN_INVALID_FORMAT"
	CodeBadSignature  ErrorCode = "TOKEN_BAD_SIGNATURE"
	CodeScopeMismatch ErrorCode = "TOKEN_SCOPE_MISMATCH"
)

// Error is the typed, closed-code error every token operation returns
// instead of an ad-hoc error value; no exception crosses the token
// boundary (§4.2).
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const signatureSize = 32

// Sign packs p into its binary layout and signs it under kr's current key,
// returning the bech32m-encoded token string.
func Sign(kr *keyring.Keyring, p Payload) (string, error) {
	hrp, err := p.Kind.hrp()
	if err != nil {
		return "", err
	}
	payloadBytes, err := encodePayload(p)
	if err != nil {
		return "", &Error{Code: CodeInvalidFormat, Message: err.Error()}
	}
	sig, err := kr.Sign(payloadBytes)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	combined := append(append([]byte{}, payloadBytes...), sig...)
	converted, err := bech32.ConvertBits(combined, 8, 5, true)
	if err != nil {
		return "", &Error{Code: CodeInvalidFormat, Message: "convert bits: " + err.Error()}
	}
	encoded, err := bech32.EncodeM(hrp, converted)
	if err != nil {
		return "", &Error{Code: CodeInvalidFormat, Message: "bech32m encode: " + err.Error()}
	}
	return encoded, nil
}

// Parse decodes and verifies a token string against kr, returning the
// payload on success. Every failure mode returns an *Error with a closed
// code; there is nothing else a caller needs to type-switch on.
func Parse(kr *keyring.Keyring, token string) (Payload, error) {
	hrp, converted, enc, err := bech32.DecodeGeneric(token)
	if err != nil {
		return Payload{}, &Error{Code: CodeInvalidFormat, Message: "bech32m decode: " + err.Error()}
	}
	if enc != bech32.Bech32m {
		return Payload{}, &Error{Code: CodeInvalidFormat, Message: "token is not bech32m-encoded"}
	}
	combined, err := bech32.ConvertBits(converted, 5, 8, false)
	if err != nil {
		return Payload{}, &Error{Code: CodeInvalidFormat, Message: "convert bits: " + err.Error()}
	}
	if len(combined) < signatureSize+2 {
		return Payload{}, &Error{Code: CodeInvalidFormat, Message: "token too short"}
	}

	payloadBytes := combined[:len(combined)-signatureSize]
	sig := combined[len(combined)-signatureSize:]

	p, err := decodePayload(payloadBytes)
	if err != nil {
		return Payload{}, &Error{Code: CodeInvalidFormat, Message: err.Error()}
	}

	wantHrp, err := p.Kind.hrp()
	if err != nil {
		return Payload{}, err.(*Error)
	}
	if wantHrp != hrp {
		return Payload{}, &Error{Code: CodeInvalidFormat, Message: fmt.Sprintf("hrp %q does not match token kind", hrp)}
	}

	ok, err := kr.Verify(payloadBytes, sig)
	if err != nil {
		return Payload{}, fmt.Errorf("token: verify: %w", err)
	}
	if !ok {
		return Payload{}, &Error{Code: CodeBadSignature, Message: "signature does not verify under current or previous key"}
	}

	return p, nil
}

// VerifyScope enforces §4.2's ack/checkpoint-vs-state scope equality check:
// {sessionId, runId, nodeId} must agree between the two payloads.
func VerifyScope(state, other Payload) error {
	if state.SessionId != other.SessionId || state.RunId != other.RunId || state.NodeId != other.NodeId {
		return &Error{Code: CodeScopeMismatch, Message: "token scope does not match state token"}
	}
	return nil
}

const (
	offVersion = 0
	offKind    = 1
	offSession = 2
	offRun     = 18
	offNode    = 34
	fixedLen   = 50
)

func encodePayload(p Payload) ([]byte, error) {
	buf := make([]byte, fixedLen)
	buf[offVersion] = TokenVersion
	buf[offKind] = uint8(p.Kind)

	sess, err := ids.Raw16(string(p.SessionId))
	if err != nil {
		return nil, fmt.Errorf("sessionId: %w", err)
	}
	copy(buf[offSession:offSession+16], sess[:])

	run, err := ids.Raw16(string(p.RunId))
	if err != nil {
		return nil, fmt.Errorf("runId: %w", err)
	}
	copy(buf[offRun:offRun+16], run[:])

	node, err := ids.Raw16(string(p.NodeId))
	if err != nil {
		return nil, fmt.Errorf("nodeId: %w", err)
	}
	copy(buf[offNode:offNode+16], node[:])

	if p.AttemptId != "" {
		att, err := ids.Raw16(string(p.AttemptId))
		if err != nil {
			return nil, fmt.Errorf("attemptId: %w", err)
		}
		buf = append(buf, 1)
		buf = append(buf, att[:]...)
	} else {
		buf = append(buf, 0)
	}

	if p.WorkflowHashRef != "" {
		ref, err := ids.Raw16(string(p.WorkflowHashRef))
		if err != nil {
			return nil, fmt.Errorf("workflowHashRef: %w", err)
		}
		buf = append(buf, 1)
		buf = append(buf, ref[:]...)
	} else {
		buf = append(buf, 0)
	}

	return buf, nil
}

func decodePayload(buf []byte) (Payload, error) {
	if len(buf) < fixedLen+2 {
		return Payload{}, fmt.Errorf("payload too short: %d bytes", len(buf))
	}
	version := buf[offVersion]
	if version != TokenVersion {
		return Payload{}, fmt.Errorf("unsupported token version %d", version)
	}
	kind := Kind(buf[offKind])

	var sess, run, node [16]byte
	copy(sess[:], buf[offSession:offSession+16])
	copy(run[:], buf[offRun:offRun+16])
	copy(node[:], buf[offNode:offNode+16])

	p := Payload{
		TokenVersion: version,
		Kind:         kind,
		SessionId:    ids.SessionId(ids.FromRaw16("sess", sess)),
		RunId:        ids.RunId(ids.FromRaw16("run", run)),
		NodeId:       ids.NodeId(ids.FromRaw16("node", node)),
	}

	rest := buf[fixedLen:]
	hasAttempt := rest[0] == 1
	rest = rest[1:]
	if hasAttempt {
		if len(rest) < 16 {
			return Payload{}, fmt.Errorf("truncated attemptId")
		}
		var att [16]byte
		copy(att[:], rest[:16])
		p.AttemptId = ids.AttemptId(ids.FromRaw16("att", att))
		rest = rest[16:]
	}

	if len(rest) < 1 {
		return Payload{}, fmt.Errorf("truncated workflowHashRef flag")
	}
	hasRef := rest[0] == 1
	rest = rest[1:]
	if hasRef {
		if len(rest) < 16 {
			return Payload{}, fmt.Errorf("truncated workflowHashRef")
		}
		var ref [16]byte
		copy(ref[:], rest[:16])
		p.WorkflowHashRef = ids.WorkflowHashRef(ids.FromRaw16("whr", ref))
		rest = rest[16:]
	}

	if len(rest) != 0 {
		return Payload{}, fmt.Errorf("trailing %d bytes in payload", len(rest))
	}

	return p, nil
}
