// Package signal defines the abstract port vocabulary shared by every part of
// the harness: port identifiers, payload masking, per-edge snapshots and
// boundary transfers.
//
// Ports are named from the harness point of view, never from the device's:
//
//	in.valid  in.ready  in.data     producer-facing boundary
//	out.valid out.ready out.data    consumer-facing boundary
//	reset                           logical reset level (1 = asserted)
//
// The binding layer translates these names into whatever the device under
// test calls them.
package signal

import (
	"fmt"
	"strings"
)

// Port identifies one abstract signal of a handshake interface.
type Port uint8

const (
	InValid Port = iota
	InReady
	InData
	OutValid
	OutReady
	OutData
	Reset

	// NumPorts is the number of abstract ports.
	NumPorts
)

var portNames = [NumPorts]string{
	InValid:  "in.valid",
	InReady:  "in.ready",
	InData:   "in.data",
	OutValid: "out.valid",
	OutReady: "out.ready",
	OutData:  "out.data",
	Reset:    "reset",
}

// String returns the dotted port name, e.g. "in.valid".
func (p Port) String() string {
	if p < NumPorts {
		return portNames[p]
	}
	return fmt.Sprintf("port(%d)", uint8(p))
}

// ParsePort converts a dotted port name into a Port.
// Matching is case-insensitive and also accepts underscores ("in_valid").
func ParsePort(s string) (Port, error) {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "."))
	for p, n := range portNames {
		if n == name {
			return Port(p), nil
		}
	}
	return 0, fmt.Errorf("unknown port %q", s)
}

// Ports returns all abstract ports in declaration order.
func Ports() []Port {
	ps := make([]Port, NumPorts)
	for i := range ps {
		ps[i] = Port(i)
	}
	return ps
}

// IsData reports whether p carries a multi-bit payload.
func (p Port) IsData() bool { return p == InData || p == OutData }

// Boundary groups the three handshake ports of one side of the interface.
type Boundary struct {
	Name  string
	Valid Port
	Ready Port
	Data  Port
}

// Input and Output are the two boundaries of a single-channel interface.
var (
	Input  = Boundary{Name: "input", Valid: InValid, Ready: InReady, Data: InData}
	Output = Boundary{Name: "output", Valid: OutValid, Ready: OutReady, Data: OutData}
)

// Mask returns the payload mask for a data width in bits (1..64).
func Mask(width int) uint64 {
	if width <= 0 || width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}
