package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step commits inputs, applies one rising edge and settles.
func step(t *testing.T, d Device, in map[string]uint64) {
	t.Helper()
	for k, v := range in {
		require.NoError(t, d.Set(k, v))
	}
	d.Eval()
	d.Tick()
	d.Eval()
}

func get(t *testing.T, d Device, name string) uint64 {
	t.Helper()
	v, err := d.Get(name)
	require.NoError(t, err)
	return v
}

func TestNew_Defaults(t *testing.T) {
	d, err := New(Spec{})
	require.NoError(t, err)
	assert.Contains(t, d.Signals(), "valid_in")
	assert.Contains(t, d.Signals(), "rst")
	assert.IsType(t, &PipeReg{}, d)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"unknown model", Spec{Model: "fifo9"}, "unknown model"},
		{"bad width", Spec{Width: 65}, "out of range"},
		{"bad convention", Spec{Convention: "camel"}, "unknown convention"},
		{"bad reset", Spec{Reset: "reset_b"}, "unknown reset style"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestModels_Sorted(t *testing.T) {
	ms := Models()
	assert.Equal(t, "pipereg", ms[0])
	assert.Contains(t, ms, "pipereg-swap")
	assert.IsIncreasing(t, ms)
}

func TestNamesFor(t *testing.T) {
	n := NamesFor(Prefix, ResetAsyncLow)
	assert.Equal(t, "in_valid", n.ValidIn)
	assert.Equal(t, "out_data", n.DataOut)
	assert.Equal(t, "rst_n", n.Reset)

	n = NamesFor(Suffix, ResetSyncHigh)
	assert.Equal(t, "ready_out", n.ReadyOut)
	assert.Equal(t, "rst", n.Reset)
}

func TestPipeReg_SetOutputFails(t *testing.T) {
	d := NewPipeReg(Spec{Width: 8}, FaultNone)
	err := d.Set("valid_out", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is an output")

	err = d.Set("nope", 1)
	require.Error(t, err)
	_, err = d.Get("nope")
	require.Error(t, err)
}

func TestPipeReg_AcceptAndDrain(t *testing.T) {
	d := NewPipeReg(Spec{Width: 8}, FaultNone)
	step(t, d, map[string]uint64{"rst": 1})
	step(t, d, map[string]uint64{"rst": 0})

	assert.Equal(t, uint64(0), get(t, d, "valid_out"))
	assert.Equal(t, uint64(1), get(t, d, "ready_in"))

	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 0xA5})
	assert.Equal(t, uint64(1), get(t, d, "valid_out"))
	assert.Equal(t, uint64(0xA5), get(t, d, "data_out"))
	assert.Equal(t, uint64(0), get(t, d, "ready_in"), "full and not drained")

	step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 1})
	assert.Equal(t, uint64(0), get(t, d, "valid_out"))
	assert.Equal(t, uint64(1), get(t, d, "ready_in"))
}

func TestPipeReg_HoldsWhileStalled(t *testing.T) {
	d := NewPipeReg(Spec{Width: 8}, FaultNone)
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 0x77})
	for i := 0; i < 5; i++ {
		step(t, d, map[string]uint64{"valid_in": 1, "data_in": 0x11, "ready_out": 0})
		assert.Equal(t, uint64(1), get(t, d, "valid_out"))
		assert.Equal(t, uint64(0x77), get(t, d, "data_out"))
	}
}

func TestPipeReg_PassThroughSameEdge(t *testing.T) {
	d := NewPipeReg(Spec{Width: 8}, FaultNone)
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 1, "ready_out": 1})
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 2, "ready_out": 1})
	assert.Equal(t, uint64(1), get(t, d, "valid_out"))
	assert.Equal(t, uint64(2), get(t, d, "data_out"))
}

func TestPipeReg_MasksPayload(t *testing.T) {
	d := NewPipeReg(Spec{Width: 4}, FaultNone)
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 0xFF})
	assert.Equal(t, uint64(0xF), get(t, d, "data_out"))
}

func TestPipeReg_AsyncLowReset(t *testing.T) {
	d := NewPipeReg(Spec{Width: 8, Reset: ResetAsyncLow, Convention: Prefix}, FaultNone)
	step(t, d, map[string]uint64{"rst_n": 1, "in_valid": 1, "in_data": 3})
	assert.Equal(t, uint64(1), get(t, d, "out_valid"))

	// Asynchronous: clears on Eval without a clock edge.
	require.NoError(t, d.Set("rst_n", 0))
	d.Eval()
	assert.Equal(t, uint64(0), get(t, d, "out_valid"))
}

func TestPipeReg_Faults(t *testing.T) {
	t.Run("no backpressure", func(t *testing.T) {
		d := NewPipeReg(Spec{Width: 8}, FaultNoBackpressure)
		step(t, d, map[string]uint64{"valid_in": 1, "data_in": 1})
		assert.Equal(t, uint64(1), get(t, d, "ready_in"))
		step(t, d, map[string]uint64{"valid_in": 1, "data_in": 2})
		assert.Equal(t, uint64(2), get(t, d, "data_out"), "held value overwritten")
	})

	t.Run("drop", func(t *testing.T) {
		d := NewPipeReg(Spec{Width: 8}, FaultDrop)
		var out []uint64
		for v := uint64(1); v <= 3; v++ {
			step(t, d, map[string]uint64{"valid_in": 1, "data_in": v, "ready_out": 0})
			if get(t, d, "valid_out") == 1 {
				out = append(out, get(t, d, "data_out"))
			}
			step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 1})
		}
		assert.Equal(t, []uint64{1, 2}, out)
	})

	t.Run("duplicate", func(t *testing.T) {
		d := NewPipeReg(Spec{Width: 8}, FaultDuplicate)
		step(t, d, map[string]uint64{"valid_in": 1, "data_in": 9})
		step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 1})
		assert.Equal(t, uint64(1), get(t, d, "valid_out"), "value replayed once")
		step(t, d, map[string]uint64{"ready_out": 1})
		assert.Equal(t, uint64(0), get(t, d, "valid_out"))
	})

	t.Run("unstable", func(t *testing.T) {
		d := NewPipeReg(Spec{Width: 8}, FaultUnstable)
		step(t, d, map[string]uint64{"valid_in": 1, "data_in": 0x10})
		step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 0})
		assert.Equal(t, uint64(0x11), get(t, d, "data_out"))
		step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 0})
		assert.Equal(t, uint64(0x10), get(t, d, "data_out"), "stored value is shown again")
		step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 0})
		assert.Equal(t, uint64(0x10), get(t, d, "data_out"), "one glitch per value")
	})

	t.Run("stuck", func(t *testing.T) {
		d := NewPipeReg(Spec{Width: 8}, FaultStuck)
		step(t, d, map[string]uint64{"valid_in": 1, "data_in": 1})
		assert.Equal(t, uint64(0), get(t, d, "valid_out"))
	})
}

func TestSwapPair_ReversesPairs(t *testing.T) {
	d := NewSwapPair(Spec{Width: 8})
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 1})
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 2})
	assert.Equal(t, uint64(0), get(t, d, "ready_in"))

	var out []uint64
	for i := 0; i < 2; i++ {
		require.Equal(t, uint64(1), get(t, d, "valid_out"))
		out = append(out, get(t, d, "data_out"))
		step(t, d, map[string]uint64{"valid_in": 0, "ready_out": 1})
	}
	assert.Equal(t, []uint64{2, 1}, out)
	assert.Equal(t, uint64(0), get(t, d, "valid_out"))
	assert.Equal(t, uint64(1), get(t, d, "ready_in"))
}

func TestSwapPair_FlushesLoneValue(t *testing.T) {
	d := NewSwapPair(Spec{Width: 8})
	step(t, d, map[string]uint64{"valid_in": 1, "data_in": 7})
	assert.Equal(t, uint64(0), get(t, d, "valid_out"), "waits for a partner while input is busy")
	step(t, d, map[string]uint64{"valid_in": 0})
	assert.Equal(t, uint64(1), get(t, d, "valid_out"))
	assert.Equal(t, uint64(7), get(t, d, "data_out"))
}
