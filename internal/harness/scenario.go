package harness

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rvconform/internal/binding"
	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/device"
	"github.com/roach88/rvconform/internal/signal"
)

//go:embed schema.cue
var schemaCUE string

// Stimulus modes.
const (
	StimulusScripted = "scripted"
	StimulusRandom   = "random"
	StimulusNone     = "none"
)

// Accept modes.
const (
	AcceptAlways   = "always"
	AcceptRandom   = "random"
	AcceptScripted = "scripted"
	AcceptStall    = "stall"
	AcceptNone     = "none"
)

// DefaultTimeoutEdges is the edge budget of a scenario that sets none.
const DefaultTimeoutEdges = 10000

// Scenario describes one conformance run: the device and how it is bound,
// the reset sequence, the stimulus and acceptance behavior, and any directed
// checks on top of the protocol contract.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Device selects the model under test.
	Device DeviceConfig `yaml:"device,omitempty"`

	// Ports overrides signal names, keyed by abstract port ("in.valid").
	Ports map[string]string `yaml:"ports,omitempty"`

	// DataWidth is the payload width in bits (default 8).
	DataWidth int `yaml:"dataWidth,omitempty"`

	// ResetPolarity is "high" (default) or "low".
	ResetPolarity string `yaml:"resetPolarity,omitempty"`

	// ResetHoldEdges is how many edges reset stays asserted (default 2).
	ResetHoldEdges int `yaml:"resetHoldEdges,omitempty"`

	// ResetHoldDuration, when set, holds reset for simulated time instead.
	ResetHoldDuration time.Duration `yaml:"resetHoldDuration,omitempty"`

	// ClockPeriod is the simulated clock period (default 10ns).
	ClockPeriod time.Duration `yaml:"clockPeriod,omitempty"`

	// StallTimeout is the wall-clock time an edge may take (default 2s).
	StallTimeout time.Duration `yaml:"stallTimeout,omitempty"`

	// StimulusMode is scripted (default), random or none.
	StimulusMode string `yaml:"stimulusMode,omitempty"`

	// Values are the scripted payloads.
	Values []uint64 `yaml:"values,omitempty"`

	// OfferProbability is the per-edge chance of a random offer.
	OfferProbability float64 `yaml:"offerProbability,omitempty"`

	// AcceptMode is always (default), random, scripted, stall or none.
	AcceptMode string `yaml:"acceptMode,omitempty"`

	// AcceptProbability is the per-edge chance of out.ready in random mode.
	AcceptProbability float64 `yaml:"acceptProbability,omitempty"`

	// AcceptPattern is the ready sequence in scripted mode, cycled.
	AcceptPattern []bool `yaml:"acceptPattern,omitempty"`

	// StallEdges is how long the stall consumer withholds readiness.
	StallEdges int `yaml:"stallEdges,omitempty"`

	// TransferCount is the number of values to transfer. Scripted
	// scenarios default to the number of values.
	TransferCount int `yaml:"transferCount,omitempty"`

	// TimeoutEdges is the edge budget (default 10000).
	TimeoutEdges int64 `yaml:"timeoutEdges,omitempty"`

	// DrainEdges is how long the consumer stays ready after the last
	// transfer (default 4).
	DrainEdges *int `yaml:"drainEdges,omitempty"`

	// IdleEdges keeps the clock running for this many edges after reset,
	// independently of the roles.
	IdleEdges int `yaml:"idleEdges,omitempty"`

	// Seed drives every random decision.
	Seed uint64 `yaml:"seed,omitempty"`

	// Pokes are directed writes relative to the end of reset.
	Pokes []Poke `yaml:"pokes,omitempty"`

	// Probes are directed checks evaluated while the scenario runs.
	Probes []ProbeSpec `yaml:"probes,omitempty"`

	// Expect holds whole-run expectations.
	Expect Expect `yaml:"expect,omitempty"`
}

// DeviceConfig selects the device model and its naming convention.
type DeviceConfig struct {
	Model      string `yaml:"model,omitempty"`
	Convention string `yaml:"convention,omitempty"`
}

// Poke writes Value to Port so that it is committed At edges after reset
// completes. Poked ports are owned by the directed role.
type Poke struct {
	At    int64  `yaml:"at"`
	Port  string `yaml:"port"`
	Value uint64 `yaml:"value"`
}

// ProbeSpec is the file form of a check.Probe.
type ProbeSpec struct {
	Name   string `yaml:"name"`
	Anchor string `yaml:"anchor,omitempty"`
	Index  int    `yaml:"index,omitempty"`
	Offset int    `yaml:"offset,omitempty"`
	Span   int    `yaml:"span,omitempty"`
	Port   string `yaml:"port"`
	Phase  string `yaml:"phase,omitempty"`
	Want   uint64 `yaml:"want"`
}

// Expect holds whole-run expectations. A nil field is not checked.
type Expect struct {
	Transfers *int `yaml:"transfers,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, violates the schema or is inconsistent.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(path, data)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// ParseScenario parses scenario YAML. filename is only used in messages.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateSchema(filename, data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &sc, nil
}

// validateSchema checks data against the embedded #Scenario definition.
func validateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("reading YAML: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("building CUE value: %w", err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// validateScenario checks that required fields are present and consistent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Device.Model != "" && !knownModel(s.Device.Model) {
		return fmt.Errorf("unknown device model %q", s.Device.Model)
	}

	for name := range s.Ports {
		if _, err := signal.ParsePort(name); err != nil {
			return fmt.Errorf("ports: %w", err)
		}
	}

	if _, err := binding.ParsePolarity(s.ResetPolarity); err != nil {
		return err
	}

	if s.ResetHoldEdges > 0 && s.ResetHoldDuration > 0 {
		return fmt.Errorf("resetHoldEdges and resetHoldDuration are mutually exclusive")
	}

	if s.DataWidth < 0 || s.DataWidth > 64 {
		return fmt.Errorf("dataWidth %d out of range 1..64", s.DataWidth)
	}

	switch s.stimulusMode() {
	case StimulusScripted:
		if len(s.Values) == 0 {
			return fmt.Errorf("scripted stimulus requires values")
		}
		if s.TransferCount != 0 && s.TransferCount != len(s.Values) {
			return fmt.Errorf("transferCount %d does not match %d scripted values", s.TransferCount, len(s.Values))
		}
		mask := signal.Mask(s.width())
		for i, v := range s.Values {
			if v&^mask != 0 {
				return fmt.Errorf("values[%d] = %#x does not fit in %d bits", i, v, s.width())
			}
		}
	case StimulusRandom:
		if s.TransferCount <= 0 {
			return fmt.Errorf("random stimulus requires transferCount")
		}
		if s.OfferProbability <= 0 || s.OfferProbability > 1 {
			return fmt.Errorf("offerProbability must be in (0, 1]")
		}
	case StimulusNone:
		if len(s.Values) > 0 || s.TransferCount > 0 {
			return fmt.Errorf("stimulusMode none takes no values or transferCount")
		}
	default:
		return fmt.Errorf("unknown stimulusMode %q", s.StimulusMode)
	}

	switch s.acceptMode() {
	case AcceptAlways, AcceptStall:
	case AcceptRandom:
		if s.AcceptProbability <= 0 || s.AcceptProbability > 1 {
			return fmt.Errorf("acceptProbability must be in (0, 1]")
		}
	case AcceptScripted:
		if len(s.AcceptPattern) == 0 {
			return fmt.Errorf("scripted acceptance requires acceptPattern")
		}
	case AcceptNone:
		if s.stimulusMode() != StimulusNone {
			return fmt.Errorf("acceptMode none requires stimulusMode none")
		}
	default:
		return fmt.Errorf("unknown acceptMode %q", s.AcceptMode)
	}

	if s.TimeoutEdges < 0 {
		return fmt.Errorf("timeoutEdges must be positive")
	}

	for i, p := range s.Pokes {
		port, err := signal.ParsePort(p.Port)
		if err != nil {
			return fmt.Errorf("pokes[%d]: %w", i, err)
		}
		if p.At < 1 {
			return fmt.Errorf("pokes[%d]: at must be at least 1", i)
		}
		if port == signal.InReady || port == signal.OutValid || port == signal.OutData {
			return fmt.Errorf("pokes[%d]: %s is driven by the device", i, port)
		}
	}

	seen := make(map[string]bool)
	for i, ps := range s.Probes {
		p, err := ps.probe()
		if err != nil {
			return fmt.Errorf("probes[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("probes[%d]: duplicate probe name %q", i, p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}

func knownModel(name string) bool {
	for _, m := range device.Models() {
		if m == name {
			return true
		}
	}
	return false
}

func (s *Scenario) stimulusMode() string {
	if s.StimulusMode == "" {
		return StimulusScripted
	}
	return s.StimulusMode
}

func (s *Scenario) acceptMode() string {
	if s.AcceptMode == "" {
		return AcceptAlways
	}
	return s.AcceptMode
}

func (s *Scenario) width() int {
	if s.DataWidth == 0 {
		return 8
	}
	return s.DataWidth
}

func (s *Scenario) timeoutEdges() int64 {
	if s.TimeoutEdges == 0 {
		return DefaultTimeoutEdges
	}
	return s.TimeoutEdges
}

// transferCount is the number of values the run moves end to end.
func (s *Scenario) transferCount() int {
	if s.stimulusMode() == StimulusScripted && s.TransferCount == 0 {
		return len(s.Values)
	}
	return s.TransferCount
}

func (ps ProbeSpec) probe() (check.Probe, error) {
	anchor, err := check.ParseAnchor(ps.Anchor)
	if err != nil {
		return check.Probe{}, err
	}
	port, err := signal.ParsePort(ps.Port)
	if err != nil {
		return check.Probe{}, err
	}
	phase, err := signal.ParsePhase(ps.Phase)
	if err != nil {
		return check.Probe{}, err
	}
	p := check.Probe{
		Name:   ps.Name,
		Anchor: anchor,
		Index:  ps.Index,
		Offset: ps.Offset,
		Span:   ps.Span,
		Port:   port,
		Phase:  phase,
		Want:   ps.Want,
	}
	return p, p.Validate()
}
