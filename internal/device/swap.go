package device

import "fmt"

// SwapPair is a defective two-entry buffer that emits the values of each
// pair in reverse arrival order. A lone value is flushed once the input goes
// idle. It exists to exercise reorder detection.
type SwapPair struct {
	pins
	buf      []uint64
	draining bool
}

// NewSwapPair returns an empty SwapPair.
func NewSwapPair(spec Spec) *SwapPair {
	return &SwapPair{pins: newPins(spec)}
}

func (d *SwapPair) readyIn() bool  { return !d.draining && len(d.buf) < 2 }
func (d *SwapPair) validOut() bool { return d.draining && len(d.buf) > 0 }

func (d *SwapPair) dataOut() uint64 {
	if len(d.buf) == 0 {
		return 0
	}
	return d.buf[len(d.buf)-1]
}

// Get returns the current value of a signal.
func (d *SwapPair) Get(name string) (uint64, error) {
	if v, ok := d.input(name); ok {
		return v, nil
	}
	switch name {
	case d.names.ReadyIn:
		return b2u(d.readyIn()), nil
	case d.names.ValidOut:
		return b2u(d.validOut()), nil
	case d.names.DataOut:
		return d.dataOut(), nil
	}
	return 0, fmt.Errorf("device: unknown signal %q", name)
}

// Set drives an input signal.
func (d *SwapPair) Set(name string, v uint64) error { return d.set(name, v) }

// Eval applies the asynchronous reset.
func (d *SwapPair) Eval() {
	if d.asyncLow && d.inReset() {
		d.buf, d.draining = d.buf[:0], false
	}
}

// Tick latches the buffer on a rising edge.
func (d *SwapPair) Tick() {
	if d.inReset() {
		d.buf, d.draining = d.buf[:0], false
		return
	}
	outFire := d.validOut() && d.readyOut == 1
	inFire := d.validIn == 1 && d.readyIn()
	if outFire {
		d.buf = d.buf[:len(d.buf)-1]
		if len(d.buf) == 0 {
			d.draining = false
		}
	}
	if inFire {
		d.buf = append(d.buf, d.dataIn)
	}
	if len(d.buf) == 2 || (len(d.buf) == 1 && d.validIn == 0) {
		d.draining = true
	}
}
