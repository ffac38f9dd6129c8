package device

import "fmt"

// Fault selects a deliberate defect in a PipeReg.
type Fault uint8

const (
	// FaultNone is a conforming single-slot pipeline register.
	FaultNone Fault = iota
	// FaultNoBackpressure keeps ready_in high while full; new data
	// overwrites the held value.
	FaultNoBackpressure
	// FaultDrop silently discards every third accepted value.
	FaultDrop
	// FaultDuplicate presents every value twice on the output.
	FaultDuplicate
	// FaultUnstable flips bit 0 of the held payload for one edge once the
	// output stalls, then shows the stored value again.
	FaultUnstable
	// FaultStuck never asserts valid on the output.
	FaultStuck
)

// PipeReg is a single-slot pipeline register:
//
//	ready_in  = !valid_reg | ready_out
//	valid_out = valid_reg
//	data_out  = data_reg
//
// On the rising edge, reset clears valid_reg; otherwise an input handshake
// loads data_in and sets valid_reg, and an output handshake without a
// simultaneous input handshake clears it.
type PipeReg struct {
	pins
	fault Fault

	validReg bool
	dataReg  uint64

	accepted int
	replayed bool
	glitched bool
	glitch   bool
}

// NewPipeReg returns a PipeReg with the given defect (FaultNone for a
// conforming device).
func NewPipeReg(spec Spec, fault Fault) *PipeReg {
	return &PipeReg{pins: newPins(spec), fault: fault}
}

func (d *PipeReg) readyIn() bool {
	if d.fault == FaultNoBackpressure {
		return true
	}
	return !d.validReg || d.readyOut == 1
}

func (d *PipeReg) validOut() bool {
	if d.fault == FaultStuck {
		return false
	}
	return d.validReg
}

// Get returns the current value of a signal.
func (d *PipeReg) Get(name string) (uint64, error) {
	if v, ok := d.input(name); ok {
		return v, nil
	}
	switch name {
	case d.names.ReadyIn:
		return b2u(d.readyIn()), nil
	case d.names.ValidOut:
		return b2u(d.validOut()), nil
	case d.names.DataOut:
		if d.glitch {
			return (d.dataReg ^ 1) & d.mask, nil
		}
		return d.dataReg, nil
	}
	return 0, fmt.Errorf("device: unknown signal %q", name)
}

// Set drives an input signal.
func (d *PipeReg) Set(name string, v uint64) error { return d.set(name, v) }

// Eval applies the asynchronous reset; the remaining outputs are pure
// functions of inputs and registers and need no settling.
func (d *PipeReg) Eval() {
	if d.asyncLow && d.inReset() {
		d.clear()
	}
}

func (d *PipeReg) clear() {
	d.validReg = false
	d.replayed = false
	d.glitch = false
}

// Tick latches the registers on a rising edge.
func (d *PipeReg) Tick() {
	if d.inReset() {
		d.clear()
		return
	}
	inFire := d.validIn == 1 && d.readyIn()
	outFire := d.validOut() && d.readyOut == 1
	d.glitch = false

	switch {
	case inFire:
		d.accepted++
		if d.fault == FaultDrop && d.accepted%3 == 0 {
			if outFire {
				d.validReg = false
			}
			return
		}
		d.validReg = true
		d.dataReg = d.dataIn
		d.replayed = false
		d.glitched = false
	case outFire:
		if d.fault == FaultDuplicate && !d.replayed {
			d.replayed = true
			return
		}
		d.validReg = false
		d.replayed = false
	case d.fault == FaultUnstable && d.validReg && !d.glitched:
		d.glitch = true
		d.glitched = true
	}
}
