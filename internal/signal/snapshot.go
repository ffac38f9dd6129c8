package signal

import (
	"fmt"
	"strings"
	"time"
)

// Values holds one value per abstract port.
type Values [NumPorts]uint64

// Get returns the value of port p.
func (v Values) Get(p Port) uint64 { return v[p] }

// High reports whether the single-bit port p is asserted.
func (v Values) High(p Port) bool { return v[p]&1 == 1 }

// Fire reports whether a transfer happens on boundary b.
func (v Values) Fire(b Boundary) bool { return v.High(b.Valid) && v.High(b.Ready) }

// Snapshot is an immutable read of every bound port at one edge.
//
// Sampled holds the values in effect at the edge instant: staged writes have
// been committed and combinational logic has settled, but registers have not
// updated yet. Handshake decisions are taken on Sampled.
//
// Settled holds the values after the register update and combinational
// recomputation, i.e. what a read "a small delay after the edge" observes.
type Snapshot struct {
	Edge    int64
	Time    time.Duration
	Sampled Values
	Settled Values
}

// Phase selects which half of a Snapshot a read refers to.
type Phase uint8

const (
	PhaseSampled Phase = iota
	PhaseSettled
)

func (ph Phase) String() string {
	if ph == PhaseSettled {
		return "settled"
	}
	return "sampled"
}

// ParsePhase converts "sampled" or "settled" into a Phase. Empty means sampled.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(s) {
	case "", "sampled":
		return PhaseSampled, nil
	case "settled":
		return PhaseSettled, nil
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// At returns the values of the requested phase.
func (s Snapshot) At(ph Phase) Values {
	if ph == PhaseSettled {
		return s.Settled
	}
	return s.Sampled
}

// String renders the snapshot in a compact single-line form for diagnostics.
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "edge %d @%v", s.Edge, s.Time)
	for _, p := range Ports() {
		fmt.Fprintf(&b, " %s=%#x/%#x", p, s.Sampled[p], s.Settled[p])
	}
	return b.String()
}

// Transfer is one completed handshake at a boundary.
type Transfer struct {
	Index int    `json:"index"`
	Value uint64 `json:"value"`
	Edge  int64  `json:"edge"`
}

// Payloads returns the values of ts in order.
func Payloads(ts []Transfer) []uint64 {
	out := make([]uint64, len(ts))
	for i, t := range ts {
		out[i] = t.Value
	}
	return out
}
