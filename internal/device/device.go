// Package device provides reference models of single-slot pipeline registers
// with a ready/valid handshake on both sides. They stand in for a device under
// test that would otherwise run inside an external simulator.
//
// A Device is evaluated in two steps per clock edge, mirroring a synchronous
// circuit: Eval settles combinational outputs from the current inputs and
// registers, Tick latches the registers on the rising edge. Reads between the
// two steps observe the values a flip-flop samples; reads after Tick+Eval
// observe the registered outputs.
//
// Besides the conforming PipeReg, the package ships defective variants that
// each break one rule of the handshake contract. They are used to prove that
// the checker catches every violation kind.
package device

import (
	"fmt"
	"sort"
	"strings"
)

// Device is a simulated device under test.
type Device interface {
	// Signals returns the concrete signal names the device exposes.
	Signals() []string
	// Get returns the current value of a signal.
	Get(name string) (uint64, error)
	// Set drives an input signal. Setting an output is an error.
	Set(name string, v uint64) error
	// Eval settles combinational logic (and asynchronous reset).
	Eval()
	// Tick applies a rising clock edge to the registers.
	Tick()
}

// Convention selects how the device names its handshake signals.
type Convention string

const (
	// Suffix names signals valid_in, ready_in, data_in, valid_out, ...
	Suffix Convention = "suffix"
	// Prefix names signals in_valid, in_ready, in_data, out_valid, ...
	Prefix Convention = "prefix"
)

// ResetStyle selects the device's reset signal.
type ResetStyle string

const (
	// ResetSyncHigh is an active-high synchronous reset named "rst".
	ResetSyncHigh ResetStyle = "rst"
	// ResetAsyncLow is an active-low asynchronous reset named "rst_n".
	ResetAsyncLow ResetStyle = "rst_n"
)

// Spec describes which model to build and how it is wired.
type Spec struct {
	Model      string     `yaml:"model" json:"model"`
	Convention Convention `yaml:"convention" json:"convention"`
	Reset      ResetStyle `yaml:"reset" json:"reset"`
	Width      int        `yaml:"width" json:"width"`
}

// Names holds the concrete signal names of a handshake device.
type Names struct {
	ValidIn, ReadyIn, DataIn    string
	ValidOut, ReadyOut, DataOut string
	Reset                       string
}

// NamesFor returns the signal names used by convention c and reset style r.
func NamesFor(c Convention, r ResetStyle) Names {
	n := Names{
		ValidIn: "valid_in", ReadyIn: "ready_in", DataIn: "data_in",
		ValidOut: "valid_out", ReadyOut: "ready_out", DataOut: "data_out",
	}
	if c == Prefix {
		n = Names{
			ValidIn: "in_valid", ReadyIn: "in_ready", DataIn: "in_data",
			ValidOut: "out_valid", ReadyOut: "out_ready", DataOut: "out_data",
		}
	}
	n.Reset = string(ResetSyncHigh)
	if r == ResetAsyncLow {
		n.Reset = string(ResetAsyncLow)
	}
	return n
}

type constructor func(Spec) Device

var models = map[string]constructor{
	"pipereg":                 func(s Spec) Device { return NewPipeReg(s, FaultNone) },
	"pipereg-no-backpressure": func(s Spec) Device { return NewPipeReg(s, FaultNoBackpressure) },
	"pipereg-drop":            func(s Spec) Device { return NewPipeReg(s, FaultDrop) },
	"pipereg-duplicate":       func(s Spec) Device { return NewPipeReg(s, FaultDuplicate) },
	"pipereg-unstable":        func(s Spec) Device { return NewPipeReg(s, FaultUnstable) },
	"pipereg-stuck":           func(s Spec) Device { return NewPipeReg(s, FaultStuck) },
	"pipereg-swap":            func(s Spec) Device { return NewSwapPair(s) },
}

// Models returns the names of all registered models, sorted.
func Models() []string {
	names := make([]string, 0, len(models))
	for k := range models {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// New builds the model named by spec.Model. Empty fields take defaults:
// model "pipereg", suffix naming, active-high reset, 8-bit payload.
func New(spec Spec) (Device, error) {
	if spec.Model == "" {
		spec.Model = "pipereg"
	}
	if spec.Convention == "" {
		spec.Convention = Suffix
	}
	if spec.Reset == "" {
		spec.Reset = ResetSyncHigh
	}
	if spec.Width == 0 {
		spec.Width = 8
	}
	if spec.Width < 1 || spec.Width > 64 {
		return nil, fmt.Errorf("device: width %d out of range 1..64", spec.Width)
	}
	switch spec.Convention {
	case Suffix, Prefix:
	default:
		return nil, fmt.Errorf("device: unknown convention %q", spec.Convention)
	}
	switch spec.Reset {
	case ResetSyncHigh, ResetAsyncLow:
	default:
		return nil, fmt.Errorf("device: unknown reset style %q", spec.Reset)
	}
	ctor, ok := models[strings.ToLower(spec.Model)]
	if !ok {
		return nil, fmt.Errorf("device: unknown model %q (known: %s)", spec.Model, strings.Join(Models(), ", "))
	}
	return ctor(spec), nil
}
