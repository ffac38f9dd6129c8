package device

import "fmt"

// pins holds the input side shared by every model: the signal names, the
// payload mask and the values currently driven by the environment.
type pins struct {
	names     Names
	mask      uint64
	asyncLow  bool
	validIn   uint64
	readyOut  uint64
	dataIn    uint64
	resetWire uint64
}

func newPins(spec Spec) pins {
	mask := ^uint64(0)
	if spec.Width < 64 {
		mask = (uint64(1) << uint(spec.Width)) - 1
	}
	return pins{
		names:    NamesFor(spec.Convention, spec.Reset),
		mask:     mask,
		asyncLow: spec.Reset == ResetAsyncLow,
	}
}

func (p *pins) Signals() []string {
	n := p.names
	return []string{n.ValidIn, n.ReadyIn, n.DataIn, n.ValidOut, n.ReadyOut, n.DataOut, n.Reset}
}

// inReset reports whether the reset wire is at its asserted level.
func (p *pins) inReset() bool {
	if p.asyncLow {
		return p.resetWire&1 == 0
	}
	return p.resetWire&1 == 1
}

func (p *pins) set(name string, v uint64) error {
	switch name {
	case p.names.ValidIn:
		p.validIn = v & 1
	case p.names.ReadyOut:
		p.readyOut = v & 1
	case p.names.DataIn:
		p.dataIn = v & p.mask
	case p.names.Reset:
		p.resetWire = v & 1
	case p.names.ReadyIn, p.names.ValidOut, p.names.DataOut:
		return fmt.Errorf("device: %s is an output", name)
	default:
		return fmt.Errorf("device: unknown signal %q", name)
	}
	return nil
}

// input returns the value of an input signal; ok is false for outputs and
// unknown names.
func (p *pins) input(name string) (uint64, bool) {
	switch name {
	case p.names.ValidIn:
		return p.validIn, true
	case p.names.ReadyOut:
		return p.readyOut, true
	case p.names.DataIn:
		return p.dataIn, true
	case p.names.Reset:
		return p.resetWire, true
	}
	return 0, false
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
