// Package fault defines the error taxonomy of the conformance harness.
//
// Structural and scheduling failures are reported as *Error values carrying a
// Code. Protocol violations found by the checker are not errors in this sense;
// they are collected into the verdict (see package check).
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Code categorizes harness errors.
type Code string

const (
	// CodeStalledClock indicates the edge source produced no edge within the
	// stall timeout. Fatal: the scenario is aborted.
	CodeStalledClock Code = "STALLED_CLOCK"

	// CodeScenarioTimeout indicates the transfer goal was not met within the
	// edge budget. Reported in the verdict, not fatal to the overall run.
	CodeScenarioTimeout Code = "SCENARIO_TIMEOUT"

	// CodePortOwnership indicates a port is written by more than one role, or
	// by a role that never claimed it. Fatal, detected before the scenario
	// starts whenever possible.
	CodePortOwnership Code = "PORT_OWNERSHIP_VIOLATION"
)

// Error is a coded harness error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Edge is the edge index at which the error was detected (0 if before
	// the first edge).
	Edge int64

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Edge > 0 {
		return fmt.Sprintf("%s: %s (edge=%d)", e.Code, e.Message, e.Edge)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewStalledClock creates an error for an edge source that stopped producing
// edges. last is the index of the last edge that did fire.
func NewStalledClock(last int64, timeout time.Duration) *Error {
	return &Error{
		Code:    CodeStalledClock,
		Message: fmt.Sprintf("no edge within %v", timeout),
		Edge:    last,
		Details: map[string]string{
			"timeout": timeout.String(),
		},
	}
}

// NewScenarioTimeout creates an error for an exhausted edge budget.
func NewScenarioTimeout(budget int64) *Error {
	return &Error{
		Code:    CodeScenarioTimeout,
		Message: fmt.Sprintf("edge budget of %d exhausted", budget),
		Edge:    budget,
		Details: map[string]string{
			"budget": fmt.Sprintf("%d", budget),
		},
	}
}

// NewPortOwnership creates an error for a port written outside its owner.
// owner is empty when the port was never claimed.
func NewPortOwnership(port, owner, role string) *Error {
	msg := fmt.Sprintf("port %s is owned by %q, written by %q", port, owner, role)
	if owner == "" {
		msg = fmt.Sprintf("port %s written by %q without a claim", port, role)
	}
	return &Error{
		Code:    CodePortOwnership,
		Message: msg,
		Details: map[string]string{
			"port":  port,
			"owner": owner,
			"role":  role,
		},
	}
}

func hasCode(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsStalledClock reports whether err is (or wraps) a stalled clock error.
func IsStalledClock(err error) bool { return hasCode(err, CodeStalledClock) }

// IsScenarioTimeout reports whether err is (or wraps) a scenario timeout.
func IsScenarioTimeout(err error) bool { return hasCode(err, CodeScenarioTimeout) }

// IsPortOwnership reports whether err is (or wraps) a port ownership error.
func IsPortOwnership(err error) bool { return hasCode(err, CodePortOwnership) }

// IsFatal reports whether err aborts a scenario. Scenario timeouts are
// reported in the verdict instead.
func IsFatal(err error) bool {
	return err != nil && !IsScenarioTimeout(err)
}
