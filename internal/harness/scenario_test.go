package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content to a scenario file in a temp dir.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: hold_test
description: "Stall the consumer"
device:
  model: pipereg
  convention: prefix
ports:
  in.valid: in_valid
dataWidth: 16
resetPolarity: low
resetHoldDuration: 45ns
clockPeriod: 5ns
values: [0x1234, 7]
acceptMode: stall
stallEdges: 3
drainEdges: 0
pokes:
  - at: 3
    port: reset
    value: 1
probes:
  - name: held
    anchor: in
    offset: 1
    span: 3
    port: out.data
    want: 0x1234
expect:
  transfers: 2
`)

	sc, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "hold_test", sc.Name)
	assert.Equal(t, "prefix", sc.Device.Convention)
	assert.Equal(t, "in_valid", sc.Ports["in.valid"])
	assert.Equal(t, 16, sc.DataWidth)
	assert.Equal(t, 45*time.Nanosecond, sc.ResetHoldDuration)
	assert.Equal(t, 5*time.Nanosecond, sc.ClockPeriod)
	assert.Equal(t, []uint64{0x1234, 7}, sc.Values)
	assert.Equal(t, 2, sc.transferCount())
	require.NotNil(t, sc.DrainEdges)
	assert.Equal(t, 0, *sc.DrainEdges)
	require.Len(t, sc.Probes, 1)
	assert.Equal(t, uint64(0x1234), sc.Probes[0].Want)
	require.NotNil(t, sc.Expect.Transfers)
	assert.Equal(t, 2, *sc.Expect.Transfers)
	assert.Equal(t, int64(DefaultTimeoutEdges), sc.timeoutEdges())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
values: [1]
acceptModes: always
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"width too large", "name: w\nvalues: [1]\ndataWidth: 65\n"},
		{"unknown stimulus mode", "name: s\nstimulusMode: burst\n"},
		{"probability above one", "name: p\nstimulusMode: random\ntransferCount: 1\nofferProbability: 1.5\n"},
		{"bad port key", "name: k\nvalues: [1]\nports:\n  in.strobe: x\n"},
		{"bad name", "name: Has Spaces\nvalues: [1]\n"},
		{"negative stall", "name: n\nvalues: [1]\nstallEdges: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario("test.yaml", []byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
		})
	}
}

func TestLoadScenario_SemanticErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"scripted without values", "name: a\n", "scripted stimulus requires values"},
		{"random without count", "name: a\nstimulusMode: random\nofferProbability: 0.5\n", "requires transferCount"},
		{"random without probability", "name: a\nstimulusMode: random\ntransferCount: 3\n", "offerProbability"},
		{"count mismatch", "name: a\nvalues: [1, 2]\ntransferCount: 3\n", "does not match"},
		{"value too wide", "name: a\ndataWidth: 4\nvalues: [0x1F]\n", "does not fit in 4 bits"},
		{"no consumer", "name: a\nvalues: [1]\nacceptMode: none\n", "acceptMode none requires stimulusMode none"},
		{"pattern missing", "name: a\nvalues: [1]\nacceptMode: scripted\n", "requires acceptPattern"},
		{"random accept without probability", "name: a\nvalues: [1]\nacceptMode: random\n", "acceptProbability"},
		{"both holds", "name: a\nvalues: [1]\nresetHoldEdges: 2\nresetHoldDuration: 20ns\n", "mutually exclusive"},
		{"unknown model", "name: a\nvalues: [1]\ndevice:\n  model: fifo9\n", `unknown device model "fifo9"`},
		{"poke device output", "name: a\nvalues: [1]\npokes:\n  - {at: 1, port: out.valid, value: 1}\n", "driven by the device"},
		{"duplicate probe", "name: a\nvalues: [1]\nprobes:\n  - {name: p, port: in.ready, want: 1}\n  - {name: p, port: in.ready, want: 1}\n", "duplicate probe name"},
		{"none with values", "name: a\nstimulusMode: none\nvalues: [1]\n", "takes no values"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario("test.yaml", []byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuiltin(t *testing.T) {
	all, err := Builtin()
	require.NoError(t, err)

	var names []string
	for _, sc := range all {
		names = append(names, sc.Name)
	}
	assert.Equal(t, []string{"basic_flow", "backpressure", "long_stall", "stress", "idle_reset", "single_bit"}, names)

	sc, err := BuiltinScenario("stress")
	require.NoError(t, err)
	assert.Equal(t, 200, sc.transferCount())
	assert.Equal(t, 0.85, sc.OfferProbability)
	assert.Equal(t, 0.65, sc.AcceptProbability)

	_, err = BuiltinScenario("missing")
	assert.ErrorContains(t, err, "unknown built-in scenario")
}

func TestLoadScenarios_Directory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.yaml":     "name: second\nvalues: [2]\n",
		"a.yml":      "name: first\nvalues: [1]\n",
		"notes.txt":  "not a scenario",
		"broken.bak": "name: [",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	scs, err := LoadScenarios(dir)
	require.NoError(t, err)
	require.Len(t, scs, 2)
	assert.Equal(t, "first", scs[0].Name)
	assert.Equal(t, "second", scs[1].Name)

	_, err = LoadScenarios(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}
