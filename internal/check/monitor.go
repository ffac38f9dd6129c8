package check

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/rvconform/internal/signal"
)

// DefaultCapacity is the number of values a single-slot pipeline register
// holds.
const DefaultCapacity = 1

// DefaultWindow is the number of recent snapshots kept for diagnostics.
const DefaultWindow = 16

// Monitor checks the protocol contract edge by edge. It arms itself on the
// first edge that samples reset deasserted; earlier edges are only recorded.
// Observe must be called once per edge in edge order.
type Monitor struct {
	capacity int
	window   int
	expect   int
	logger   *slog.Logger

	mu         sync.Mutex
	armed      bool
	resetEdge  int64
	last       int64
	prev       *signal.Snapshot
	ring       []signal.Snapshot
	sb         scoreboard
	inEdges    []int64
	outEdges   []int64
	probes     []*probeState
	violations []Violation
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCapacity sets the number of values the device may hold.
func WithCapacity(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithWindow sets the number of snapshots kept for diagnostics.
func WithWindow(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithProbes registers directed probes.
func WithProbes(ps ...Probe) MonitorOption {
	return func(m *Monitor) {
		for _, p := range ps {
			m.probes = append(m.probes, &probeState{Probe: p})
		}
	}
}

// WithExpectedTransfers requires exactly n output transfers by the end of
// the run. Negative disables the check.
func WithExpectedTransfers(n int) MonitorOption {
	return func(m *Monitor) { m.expect = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		capacity: DefaultCapacity,
		window:   DefaultWindow,
		expect:   -1,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe checks one edge snapshot. It has the signature of a
// binding.Observer.
func (m *Monitor) Observe(s signal.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = s.Edge
	m.ring = append(m.ring, s)
	if len(m.ring) > m.window {
		m.ring = m.ring[len(m.ring)-m.window:]
	}

	inReset := s.Sampled.High(signal.Reset)
	if !m.armed && !inReset {
		m.armed = true
		m.resetEdge = s.Edge
		m.logger.Debug("monitor armed", "edge", s.Edge)
	}
	if m.armed && inReset {
		// Reset empties the device; whatever it held is gone legitimately.
		m.sb.reset()
		m.prev = nil
	}
	if m.armed && !inReset {
		m.checkEdge(s)
		snap := s
		m.prev = &snap
	}

	for _, ps := range m.probes {
		anchor, known := m.anchorLocked(ps.Anchor, ps.Index)
		if v := ps.observe(anchor, known, s); v != nil {
			m.record(*v)
		}
	}
}

func (m *Monitor) checkEdge(s signal.Snapshot) {
	if m.prev != nil {
		m.checkStable(signal.Input, *m.prev, s)
		m.checkStable(signal.Output, *m.prev, s)
	}

	inFire := s.Sampled.Fire(signal.Input)
	outFire := s.Sampled.Fire(signal.Output)

	if held := m.held(s); held >= m.capacity && !outFire && s.Sampled.High(signal.InReady) {
		m.record(m.at(s, KindBackpressure,
			"in.ready asserted with %d value(s) held and no output transfer", held))
	}

	if inFire {
		m.sb.accept(s.Sampled[signal.InData], s.Edge)
		m.inEdges = append(m.inEdges, s.Edge)
	}
	if outFire {
		for _, v := range m.sb.deliver(s.Sampled[signal.OutData], s.Edge) {
			snap := s
			v.Snapshot = &snap
			m.record(v)
		}
		m.outEdges = append(m.outEdges, s.Edge)
	}
}

// held is the number of values the device holds at s. The scoreboard count
// is bounded by what the device shows: with out.valid low it holds nothing,
// whatever it accepted and then dropped.
func (m *Monitor) held(s signal.Snapshot) int {
	switch n := m.sb.len(); {
	case !s.Sampled.High(signal.OutValid):
		return 0
	case n == 0:
		return 1
	default:
		return n
	}
}

// checkStable enforces that an offer pending at prev is still offered,
// unchanged, at cur.
func (m *Monitor) checkStable(b signal.Boundary, prev, cur signal.Snapshot) {
	if !prev.Sampled.High(b.Valid) || prev.Sampled.High(b.Ready) {
		return
	}
	if !cur.Sampled.High(b.Valid) {
		m.record(m.at(cur, KindInstability,
			"%s dropped while %s was low at edge %d", b.Valid, b.Ready, prev.Edge))
		return
	}
	if was, now := prev.Sampled[b.Data], cur.Sampled[b.Data]; was != now {
		m.record(m.at(cur, KindInstability,
			"%s changed from %#x to %#x while stalled", b.Data, was, now))
	}
}

func (m *Monitor) at(s signal.Snapshot, k Kind, format string, args ...any) Violation {
	v := newViolation(k, s.Edge, format, args...)
	v.Snapshot = &s
	return v
}

func (m *Monitor) record(v Violation) {
	m.logger.Debug("violation", "kind", string(v.Kind), "edge", v.Edge, "message", v.Message)
	m.violations = append(m.violations, v)
}

func (m *Monitor) anchorLocked(a Anchor, index int) (int64, bool) {
	switch a {
	case AnchorIn:
		if index < len(m.inEdges) {
			return m.inEdges[index], true
		}
	case AnchorOut:
		if index < len(m.outEdges) {
			return m.outEdges[index], true
		}
	default:
		return m.resetEdge, m.armed
	}
	return 0, false
}

// Finish closes the run and returns every violation found. drained tells
// whether the run completed its drain phase; only then, or when the device
// shows nothing on its output at the last edge, is every outstanding value a
// loss.
func (m *Monitor) Finish(drained bool) []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	empty := m.armed && len(m.ring) > 0 && !m.ring[len(m.ring)-1].Settled.High(signal.OutValid)
	for _, v := range m.sb.finish(drained || empty, m.capacity) {
		m.record(v)
	}
	if m.expect >= 0 && drained && len(m.outEdges) != m.expect {
		m.record(newViolation(KindDirected, m.last,
			"expected %d output transfers, observed %d", m.expect, len(m.outEdges)))
	}
	for _, ps := range m.probes {
		if !ps.done {
			m.record(newViolation(KindDirected, m.last,
				"probe %q was not evaluated: anchor %s not reached", ps.Name, describeAnchor(ps.Probe)))
		}
	}
	return append([]Violation(nil), m.violations...)
}

func describeAnchor(p Probe) string {
	if p.Anchor == AnchorIn || p.Anchor == AnchorOut {
		return fmt.Sprintf("%s[%d]+%d", p.Anchor, p.Index, p.Offset)
	}
	return fmt.Sprintf("%s+%d", AnchorReset, p.Offset)
}

// Violations returns the violations found so far.
func (m *Monitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Violation(nil), m.violations...)
}

// InCount returns the number of input transfers observed.
func (m *Monitor) InCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inEdges)
}

// OutCount returns the number of output transfers observed.
func (m *Monitor) OutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outEdges)
}

// ResetEdge returns the first edge with reset deasserted, or 0 if the
// monitor has not armed.
func (m *Monitor) ResetEdge() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetEdge
}

// Window returns the most recent snapshots, oldest first.
func (m *Monitor) Window() []signal.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]signal.Snapshot(nil), m.ring...)
}
