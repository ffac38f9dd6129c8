// Package binding maps the abstract handshake ports onto the concrete signals
// of a device under test.
//
// A Binding owns the device. Roles never touch the device directly: they
// stage writes through a Driver, and the staged values are committed when the
// next clock edge fires. Reads return the snapshot of the last edge, so every
// participant resuming from the same edge sees the same values.
//
// Each edge is processed in a fixed order:
//
//  1. commit staged writes
//  2. evaluate combinational logic and capture the Sampled phase
//  3. apply the rising edge to the device registers
//  4. evaluate again and capture the Settled phase
//  5. notify observers
package binding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/rvconform/internal/device"
	"github.com/roach88/rvconform/internal/edge"
	"github.com/roach88/rvconform/internal/fault"
	"github.com/roach88/rvconform/internal/signal"
)

// Polarity is the asserted level of the reset signal.
type Polarity string

const (
	// ActiveHigh asserts reset by driving 1.
	ActiveHigh Polarity = "high"
	// ActiveLow asserts reset by driving 0.
	ActiveLow Polarity = "low"
)

// ParsePolarity accepts "high"/"low" as well as the reset signal names
// "rst" and "rst_n". Empty means active-high.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(s) {
	case "", "high", "rst":
		return ActiveHigh, nil
	case "low", "rst_n":
		return ActiveLow, nil
	}
	return "", fmt.Errorf("unknown reset polarity %q", s)
}

// ResetStyle returns the device reset style conventionally paired with p.
func (p Polarity) ResetStyle() device.ResetStyle {
	if p == ActiveLow {
		return device.ResetAsyncLow
	}
	return device.ResetSyncHigh
}

// Config describes how abstract ports map onto device signals.
type Config struct {
	// Convention selects the default signal names.
	Convention device.Convention
	// Polarity is the reset polarity. It also selects the default reset
	// signal name: "rst" for ActiveHigh, "rst_n" for ActiveLow.
	Polarity Polarity
	// Ports overrides individual signal names.
	Ports map[signal.Port]string
	// Width is the payload width in bits (default 8).
	Width int
	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

// Observer is notified with the snapshot of every edge.
type Observer func(signal.Snapshot)

// Binding connects a device to the harness.
type Binding struct {
	dev      device.Device
	names    [signal.NumPorts]string
	polarity Polarity
	mask     uint64
	logger   *slog.Logger

	mu        sync.RWMutex
	owners    [signal.NumPorts]string
	staged    [signal.NumPorts]uint64
	dirty     [signal.NumPorts]bool
	snap      signal.Snapshot
	observers []Observer
}

// New binds dev. It fails if any resolved signal name does not exist on the
// device. All inputs start at their inactive level.
func New(dev device.Device, cfg Config) (*Binding, error) {
	if cfg.Polarity == "" {
		cfg.Polarity = ActiveHigh
	}
	if cfg.Width == 0 {
		cfg.Width = 8
	}
	if cfg.Width < 1 || cfg.Width > 64 {
		return nil, fmt.Errorf("binding: data width %d out of range 1..64", cfg.Width)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	n := device.NamesFor(cfg.Convention, cfg.Polarity.ResetStyle())
	b := &Binding{
		dev:      dev,
		polarity: cfg.Polarity,
		mask:     signal.Mask(cfg.Width),
		logger:   logger,
	}
	b.names = [signal.NumPorts]string{
		signal.InValid:  n.ValidIn,
		signal.InReady:  n.ReadyIn,
		signal.InData:   n.DataIn,
		signal.OutValid: n.ValidOut,
		signal.OutReady: n.ReadyOut,
		signal.OutData:  n.DataOut,
		signal.Reset:    n.Reset,
	}
	for p, name := range cfg.Ports {
		if p >= signal.NumPorts {
			return nil, fmt.Errorf("binding: invalid port %v", p)
		}
		b.names[p] = name
	}

	have := make(map[string]bool)
	for _, s := range dev.Signals() {
		have[s] = true
	}
	var missing []string
	for p, name := range b.names {
		if !have[name] {
			missing = append(missing, fmt.Sprintf("%s->%s", signal.Port(p), name))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("binding: signals not found on device: %s", strings.Join(missing, ", "))
	}

	for _, p := range []signal.Port{signal.InValid, signal.InData, signal.OutReady, signal.Reset} {
		if err := b.commit(p, 0); err != nil {
			return nil, err
		}
	}
	dev.Eval()
	vals, err := b.readAll()
	if err != nil {
		return nil, err
	}
	b.snap = signal.Snapshot{Sampled: vals, Settled: vals}

	logger.Debug("binding resolved", "signals", b.describe(), "polarity", string(cfg.Polarity))
	return b, nil
}

func (b *Binding) describe() string {
	parts := make([]string, 0, signal.NumPorts)
	for p, name := range b.names {
		parts = append(parts, signal.Port(p).String()+"="+name)
	}
	return strings.Join(parts, " ")
}

// Name returns the device signal bound to p.
func (b *Binding) Name(p signal.Port) string { return b.names[p] }

// Polarity returns the reset polarity.
func (b *Binding) Polarity() Polarity { return b.polarity }

// Mask returns the payload mask.
func (b *Binding) Mask() uint64 { return b.mask }

// Observe registers an observer called after every edge, outside the lock.
func (b *Binding) Observe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Attach registers the binding as an edge hook on c.
func (b *Binding) Attach(c *edge.Clock) { c.OnEdge(b.Step) }

// Step processes one clock edge. It is normally invoked by the clock.
func (b *Binding) Step(e edge.Edge) error {
	b.mu.Lock()
	for p := range b.dirty {
		if !b.dirty[p] {
			continue
		}
		if err := b.commit(signal.Port(p), b.staged[p]); err != nil {
			b.mu.Unlock()
			return err
		}
		b.dirty[p] = false
	}
	b.dev.Eval()
	sampled, err := b.readAll()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.dev.Tick()
	b.dev.Eval()
	settled, err := b.readAll()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.snap = signal.Snapshot{Edge: e.Index, Time: e.Time, Sampled: sampled, Settled: settled}
	snap := b.snap
	observers := b.observers
	b.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
	return nil
}

// commit drives one port on the device. The reset port holds the logical
// level and is translated to the wire level here.
func (b *Binding) commit(p signal.Port, v uint64) error {
	if p == signal.Reset && b.polarity == ActiveLow {
		v ^= 1
	}
	if err := b.dev.Set(b.names[p], v); err != nil {
		return fmt.Errorf("binding: drive %s: %w", p, err)
	}
	return nil
}

func (b *Binding) readAll() (signal.Values, error) {
	var vals signal.Values
	for p, name := range b.names {
		v, err := b.dev.Get(name)
		if err != nil {
			return vals, fmt.Errorf("binding: read %s: %w", signal.Port(p), err)
		}
		switch {
		case signal.Port(p) == signal.Reset:
			v &= 1
			if b.polarity == ActiveLow {
				v ^= 1
			}
		case signal.Port(p).IsData():
			v &= b.mask
		default:
			v &= 1
		}
		vals[p] = v
	}
	return vals, nil
}

// Read returns the settled value of p at the last edge.
func (b *Binding) Read(p signal.Port) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.Settled[p]
}

// Sampled returns the value of p sampled at the last edge.
func (b *Binding) Sampled(p signal.Port) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap.Sampled[p]
}

// Snapshot returns both phases of the last edge.
func (b *Binding) Snapshot() signal.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

func isDeviceOutput(p signal.Port) bool {
	return p == signal.InReady || p == signal.OutValid || p == signal.OutData
}

// Claim gives role exclusive write access to ports. Claiming a port owned by
// another role fails with a port ownership error.
func (b *Binding) Claim(role string, ports ...signal.Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range ports {
		if isDeviceOutput(p) {
			return fmt.Errorf("binding: %s is driven by the device and cannot be claimed", p)
		}
	}
	for _, p := range ports {
		if owner := b.owners[p]; owner != "" && owner != role {
			return fault.NewPortOwnership(p.String(), owner, role)
		}
	}
	for _, p := range ports {
		b.owners[p] = role
	}
	return nil
}

// Owner returns the role that claimed p, or "".
func (b *Binding) Owner(p signal.Port) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.owners[p]
}

// Driver returns a write handle acting as role.
func (b *Binding) Driver(role string) *Driver {
	return &Driver{b: b, role: role}
}

// Driver stages writes on behalf of one role.
type Driver struct {
	b    *Binding
	role string
}

// Role returns the role the driver writes as.
func (d *Driver) Role() string { return d.role }

// Write stages v on p. The value becomes visible to the device at the next
// edge. Payloads are masked to the data width, control ports to one bit.
func (d *Driver) Write(p signal.Port, v uint64) error {
	b := d.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if p >= signal.NumPorts {
		return fmt.Errorf("binding: invalid port %v", p)
	}
	if owner := b.owners[p]; owner != d.role {
		return fault.NewPortOwnership(p.String(), owner, d.role)
	}
	if p.IsData() {
		v &= b.mask
	} else {
		v &= 1
	}
	b.staged[p] = v
	b.dirty[p] = true
	return nil
}

// AssertReset stages the asserted reset level.
func (d *Driver) AssertReset() error { return d.Write(signal.Reset, 1) }

// DeassertReset stages the deasserted reset level.
func (d *Driver) DeassertReset() error { return d.Write(signal.Reset, 0) }

// Idle is a hold that waits either a number of edges or an amount of
// simulated time.
type Idle struct {
	Edges    int
	Duration time.Duration
}

// Wait blocks on src until the hold has elapsed and returns the last edge
// observed. Edges takes precedence over Duration. A zero Idle returns at once.
func (b *Binding) Wait(ctx context.Context, src edge.Source, idle Idle) (edge.Edge, error) {
	start := b.Snapshot()
	last := edge.Edge{Index: start.Edge, Time: start.Time}
	switch {
	case idle.Edges > 0:
		for i := 0; i < idle.Edges; i++ {
			e, err := src.Next(ctx)
			if err != nil {
				return last, err
			}
			last = e
		}
	case idle.Duration > 0:
		for last.Time-start.Time < idle.Duration {
			e, err := src.Next(ctx)
			if err != nil {
				return last, err
			}
			last = e
		}
	}
	return last, nil
}
