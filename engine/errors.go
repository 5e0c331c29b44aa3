// Package engine implements the advance/block engine: the state machine
// that turns one start_workflow/continue_workflow/checkpoint_workflow/
// resume_session call into an atomic append against the session store
// (§4.7-4.9).
package engine

import (
	"fmt"

	"github.com/dshills/workrail/sessionstore"
	"github.com/dshills/workrail/token"
)

// ErrorCode is the closed set of boundary failure codes the engine returns.
type ErrorCode string

const (
	CodeValidationError    ErrorCode = "VALIDATION_ERROR"
	CodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// RetryKind is the closed set of retry classifications attached to an
// EngineError (§7).
type RetryKind string

const (
	RetryNotRetryable    RetryKind = "not_retryable"
	RetryAfterMs         RetryKind = "retryable_after_ms"
)

// Retry describes whether and when a caller should retry the call that
// produced an EngineError.
type Retry struct {
	Kind    RetryKind
	AfterMs int
}

// EngineError is the typed, closed-code error every engine entry point
// returns instead of an ad-hoc error value; no exception crosses the
// engine boundary (§7), matching the teacher's EngineError shape
// (graph/engine.go) and the same pattern already used by token.Error,
// sessionstore.StoreError, and projection.Error.
type EngineError struct {
	Code    ErrorCode
	Message string
	Retry   Retry
	Details map[string]interface{}
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

func validationError(message string, details map[string]interface{}) *EngineError {
	return &EngineError{Code: CodeValidationError, Message: message, Retry: Retry{Kind: RetryNotRetryable}, Details: details}
}

func preconditionFailed(message string, retry Retry) *EngineError {
	return &EngineError{Code: CodePreconditionFailed, Message: message, Retry: retry}
}

func notFound(message string) *EngineError {
	return &EngineError{Code: CodeNotFound, Message: message, Retry: Retry{Kind: RetryNotRetryable}}
}

func internalError(message string, err error) *EngineError {
	return &EngineError{Code: CodeInternalError, Message: message, Retry: Retry{Kind: RetryNotRetryable}, Err: err}
}

// tokenError surfaces any token package failure as VALIDATION_ERROR at the
// engine boundary, carrying the inner token error code where one exists
// (§7 "Token errors surface as VALIDATION_ERROR at the boundary with inner
// codes"). Not every failure token.Parse can return is a *token.Error (a
// keyring.Verify failure wraps via fmt.Errorf), so this never type-asserts
// blindly.
func tokenError(err error) *EngineError {
	details := map[string]interface{}{}
	if tokErr, ok := err.(*token.Error); ok {
		details["tokenErrorCode"] = string(tokErr.Code)
	}
	return validationError(err.Error(), details)
}

// DefaultContextBudgetBytes is the canonical-bytes ceiling on merged
// context (§4.7.1).
const DefaultContextBudgetBytes = 262144

// DefaultMaxBlockers mirrors event.MaxBlockers; kept here too so Options
// callers don't need to import event just to read the default.
const DefaultMaxBlockers = 10

// Options configures one Engine instance. Built via functional Options,
// the teacher's own configuration idiom (graph/options.go) generalized
// from execution tuning (MaxSteps, concurrency, timeouts) to this engine's
// boundary knobs (context budget, blocker cap, default autonomy, recap
// cap) — WorkRail carries that shape rather than introducing a config
// library, since nothing in the pack loads engine config any other way.
type Options struct {
	ContextBudgetBytes int
	MaxBlockers        int
	DefaultAutonomy    string
	RecapByteCap       int
	DataRoot           string

	// ResumeIndex, when set, backs resume_session's fast path. Nil is
	// fully correct; resume_session degrades to the full directory scan.
	ResumeIndex *sessionstore.ResumeIndex
}

// Option is a functional option for configuring an Engine, mirroring
// graph.Option's shape.
type Option func(*Options)

// defaultOptions returns the Options every Engine starts from before any
// Option is applied.
func defaultOptions() Options {
	return Options{
		ContextBudgetBytes: DefaultContextBudgetBytes,
		MaxBlockers:        DefaultMaxBlockers,
		DefaultAutonomy:    "guided",
		RecapByteCap:       0, // 0 => projection.DefaultRecapByteCap
		DataRoot:           "",
	}
}

// WithContextBudgetBytes overrides the canonical-bytes ceiling on merged
// context. Default: DefaultContextBudgetBytes (262144).
func WithContextBudgetBytes(n int) Option {
	return func(o *Options) { o.ContextBudgetBytes = n }
}

// WithMaxBlockers overrides the cap on blockers attached to one blocked
// response. Default: DefaultMaxBlockers (10).
func WithMaxBlockers(n int) Option {
	return func(o *Options) { o.MaxBlockers = n }
}

// WithDefaultAutonomy overrides the autonomy a session starts at absent
// any preferences_changed event. Default: "guided".
func WithDefaultAutonomy(autonomy string) Option {
	return func(o *Options) { o.DefaultAutonomy = autonomy }
}

// WithRecapByteCap overrides the byte cap applied to resume_session's
// aggregated recap trail. Default: projection.DefaultRecapByteCap.
func WithRecapByteCap(n int) Option {
	return func(o *Options) { o.RecapByteCap = n }
}

// WithDataRoot sets the root directory under which sessions/, snapshots/,
// workflows/, and keys/ live (§6).
func WithDataRoot(root string) Option {
	return func(o *Options) { o.DataRoot = root }
}

// WithResumeIndex wires a SQLite-backed ResumeIndex into resume_session's
// fast path. Omitting this option is safe: resume_session falls back to
// the full directory scan.
func WithResumeIndex(idx *sessionstore.ResumeIndex) Option {
	return func(o *Options) { o.ResumeIndex = idx }
}
