package harness

import (
	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/signal"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Model is the device model that was exercised.
	Model string `json:"model"`

	// Seed is the seed the random policies ran with.
	Seed uint64 `json:"seed"`

	// Pass is true when no violation was found and the run did not time out.
	Pass bool `json:"pass"`

	// Invariant names the contract rule of the first violation.
	Invariant string `json:"invariant,omitempty"`

	// FirstEdge is the edge of the first violation.
	FirstEdge int64 `json:"first_edge,omitempty"`

	// Timeout is true when the edge budget ran out before the transfer goal.
	Timeout bool `json:"timeout"`

	// Edges is the number of edges that fired.
	Edges int64 `json:"edges"`

	// ResetEdge is the first edge with reset deasserted.
	ResetEdge int64 `json:"reset_edge"`

	// Sent and Received are the transfers recorded by the roles.
	Sent     []signal.Transfer `json:"sent"`
	Received []signal.Transfer `json:"received"`

	// Violations holds every contract breach, ordered by edge.
	Violations []check.Violation `json:"violations"`

	// Errors contains non-fatal run errors, such as a scenario timeout.
	Errors []string `json:"errors,omitempty"`

	// Digest is the transcript digest.
	Digest string `json:"digest"`

	// Window holds the last snapshots before the run ended, for diagnosis.
	Window []signal.Snapshot `json:"-"`
}

// Transcript returns the deterministic part of the result in the form
// canon.Marshal accepts. Two runs of the same scenario and seed produce the
// same transcript.
func (r *Result) Transcript() map[string]any {
	violations := make([]any, len(r.Violations))
	for i, v := range r.Violations {
		violations[i] = map[string]any{
			"kind":      string(v.Kind),
			"invariant": v.Invariant,
			"edge":      v.Edge,
			"message":   v.Message,
		}
	}
	return map[string]any{
		"scenario":   r.Scenario,
		"pass":       r.Pass,
		"timeout":    r.Timeout,
		"edges":      r.Edges,
		"sent":       transfers(r.Sent),
		"received":   transfers(r.Received),
		"violations": violations,
	}
}

func transfers(ts []signal.Transfer) []any {
	out := make([]any, len(ts))
	for i, t := range ts {
		out[i] = map[string]any{
			"index": t.Index,
			"value": t.Value,
			"edge":  t.Edge,
		}
	}
	return out
}

// addError records a non-fatal error and marks the result as failed.
func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
	r.Pass = false
}
