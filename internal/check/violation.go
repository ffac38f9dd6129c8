// Package check verifies the handshake protocol contract.
//
// Two independent views feed one verdict. The Monitor observes every edge
// snapshot and checks the per-edge rules (backpressure, data stability) as
// well as the transfer stream itself. Evaluate compares the Sent and Received
// sequences after the run. Findings of both are merged; a violation found by
// both is reported once.
//
// The contract:
//
//	no-loss             every accepted input value is eventually delivered
//	no-fabrication      every delivered value was accepted first
//	order-preservation  values are delivered in acceptance order
//	backpressure        a full device with a stalled output keeps in.ready low
//	data-stability      an offer, once made, holds valid and data until taken
package check

import (
	"fmt"
	"sort"

	"github.com/roach88/rvconform/internal/signal"
)

// Kind classifies a protocol violation.
type Kind string

const (
	KindLoss         Kind = "loss"
	KindFabrication  Kind = "fabrication"
	KindReorder      Kind = "reorder"
	KindBackpressure Kind = "backpressure"
	KindInstability  Kind = "instability"
	KindDirected     Kind = "directed"
)

// Invariant returns the name of the contract rule the kind breaks.
func (k Kind) Invariant() string {
	switch k {
	case KindLoss:
		return "no-loss"
	case KindFabrication:
		return "no-fabrication"
	case KindReorder:
		return "order-preservation"
	case KindBackpressure:
		return "backpressure"
	case KindInstability:
		return "data-stability"
	case KindDirected:
		return "directed-check"
	}
	return string(k)
}

// Violation is one breach of the contract.
type Violation struct {
	Kind      Kind   `json:"kind"`
	Invariant string `json:"invariant"`
	Edge      int64  `json:"edge"`
	Message   string `json:"message"`

	// Snapshot is the edge at which the violation was detected, when known.
	Snapshot *signal.Snapshot `json:"-"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s at edge %d: %s", v.Invariant, v.Edge, v.Message)
}

func newViolation(k Kind, edge int64, format string, args ...any) Violation {
	return Violation{
		Kind:      k,
		Invariant: k.Invariant(),
		Edge:      edge,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Merge combines violation lists ordered by edge and then kind. A violation
// is dropped when an earlier list already reported the same kind at the same
// edge; violations within one list are all kept.
func Merge(lists ...[]Violation) []Violation {
	type key struct {
		kind Kind
		edge int64
	}
	seen := make(map[key]bool)
	var out []Violation
	for _, vs := range lists {
		var keys []key
		for _, v := range vs {
			k := key{v.Kind, v.Edge}
			if seen[k] {
				continue
			}
			keys = append(keys, k)
			out = append(out, v)
		}
		for _, k := range keys {
			seen[k] = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Edge != out[j].Edge {
			return out[i].Edge < out[j].Edge
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Verdict summarizes a run.
type Verdict struct {
	Pass       bool
	Invariant  string
	FirstEdge  int64
	Violations []Violation
}

// NewVerdict merges the violation lists into a verdict. The run passes when
// no violation remains.
func NewVerdict(lists ...[]Violation) Verdict {
	vs := Merge(lists...)
	v := Verdict{Pass: len(vs) == 0, Violations: vs}
	if len(vs) > 0 {
		v.Invariant = vs[0].Invariant
		v.FirstEdge = vs[0].Edge
	}
	return v
}
