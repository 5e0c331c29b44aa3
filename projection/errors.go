// Package projection implements the pure, deterministic folds over a
// session's event log (§4.6). Every projection here takes events sorted
// by eventIndex ascending, asserts that ordering, and folds in one pass;
// none perform I/O.
package projection

import (
	"fmt"

	"github.com/dshills/workrail/event"
)

// ErrorCode is the closed set of projection failure codes.
type ErrorCode string

const (
	CodeInvariantViolation ErrorCode = "PROJECTION_INVARIANT_VIOLATION"
)

// Error is the typed, closed-code error every projection returns instead
// of an ad-hoc error value.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invariantViolation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvariantViolation, Message: fmt.Sprintf(format, args...)}
}

// assertAscending enforces the precondition every projection shares:
// events must be strictly ascending by eventIndex.
func assertAscending(events []event.Envelope) error {
	for i := 1; i < len(events); i++ {
		if events[i].EventIndex <= events[i-1].EventIndex {
			return invariantViolation("events not strictly ascending at index %d: %d <= %d", i, events[i].EventIndex, events[i-1].EventIndex)
		}
	}
	return nil
}
