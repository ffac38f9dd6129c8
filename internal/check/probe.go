package check

import (
	"fmt"

	"github.com/roach88/rvconform/internal/signal"
)

// Anchor names the event a probe's offset is relative to.
type Anchor string

const (
	// AnchorReset is the first edge with reset deasserted.
	AnchorReset Anchor = "reset"
	// AnchorIn is the edge of an input transfer.
	AnchorIn Anchor = "in"
	// AnchorOut is the edge of an output transfer.
	AnchorOut Anchor = "out"
)

// ParseAnchor validates an anchor name. Empty means reset.
func ParseAnchor(s string) (Anchor, error) {
	switch Anchor(s) {
	case "":
		return AnchorReset, nil
	case AnchorReset, AnchorIn, AnchorOut:
		return Anchor(s), nil
	}
	return "", fmt.Errorf("unknown anchor %q", s)
}

// Probe asserts a port value on a window of edges:
//
//	anchor+offset ... anchor+offset+span-1
//
// For the in and out anchors, Index selects which transfer (0-based).
type Probe struct {
	Name   string
	Anchor Anchor
	Index  int
	Offset int
	Span   int
	Port   signal.Port
	Phase  signal.Phase
	Want   uint64
}

// Validate checks the probe's fields.
func (p Probe) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("probe name is required")
	}
	if _, err := ParseAnchor(string(p.Anchor)); err != nil {
		return fmt.Errorf("probe %q: %w", p.Name, err)
	}
	if p.Index < 0 || p.Offset < 0 || p.Span < 0 {
		return fmt.Errorf("probe %q: index, offset and span must not be negative", p.Name)
	}
	if p.Port >= signal.NumPorts {
		return fmt.Errorf("probe %q: invalid port", p.Name)
	}
	return nil
}

func (p Probe) String() string {
	return fmt.Sprintf("%s %s(%s) == %#x", p.Name, p.Port, p.Phase, p.Want)
}

// probeState tracks one probe during a run.
type probeState struct {
	Probe
	checked int
	done    bool
}

func (ps *probeState) span() int {
	if ps.Span <= 0 {
		return 1
	}
	return ps.Span
}

// observe evaluates the probe on s once its anchor edge is known.
func (ps *probeState) observe(anchor int64, known bool, s signal.Snapshot) *Violation {
	if ps.done || !known {
		return nil
	}
	first := anchor + int64(ps.Offset)
	last := first + int64(ps.span()) - 1
	if s.Edge < first || s.Edge > last {
		return nil
	}
	ps.checked++
	if s.Edge == last {
		ps.done = true
	}
	got := s.At(ps.Phase)[ps.Port]
	if got == ps.Want {
		return nil
	}
	v := newViolation(KindDirected, s.Edge, "probe %q: %s (%s) = %#x, want %#x",
		ps.Name, ps.Port, ps.Phase, got, ps.Want)
	snap := s
	v.Snapshot = &snap
	return &v
}
