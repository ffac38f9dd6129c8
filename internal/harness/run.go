package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/rvconform/internal/binding"
	"github.com/roach88/rvconform/internal/canon"
	"github.com/roach88/rvconform/internal/check"
	"github.com/roach88/rvconform/internal/device"
	"github.com/roach88/rvconform/internal/edge"
	"github.com/roach88/rvconform/internal/fault"
	"github.com/roach88/rvconform/internal/reset"
	"github.com/roach88/rvconform/internal/roles"
	"github.com/roach88/rvconform/internal/signal"
)

// DirectedRole owns the ports written by pokes.
const DirectedRole = "directed"

// IdleRole keeps the clock running for the scenario's idle edges.
const IdleRole = "idle"

// Option configures a run.
type Option func(*options)

type options struct {
	seed         *uint64
	stallTimeout time.Duration
	logger       *slog.Logger
}

// WithSeed overrides the scenario seed.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = &seed }
}

// WithStallTimeout overrides the wall-clock stall timeout.
func WithStallTimeout(d time.Duration) Option {
	return func(o *options) { o.stallTimeout = d }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Run executes a scenario against a fresh device and returns its result.
//
// Execution flow:
//  1. Build the device, bind it and start the clock
//  2. Claim ports for every role (ownership conflicts fail here)
//  3. Run the reset sequence
//  4. Run producer, consumer, pokes and idle edges concurrently
//  5. Close the checks and compute the verdict and transcript digest
//
// A scenario timeout is reported in the result. Fatal errors (stalled
// clock, ownership violations, cancellation) are returned together with
// the partial result when the run got far enough to have one.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validateScenario(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	seed := sc.Seed
	if o.seed != nil {
		seed = *o.seed
	}
	logger := o.logger.With("scenario", sc.Name)

	r, err := newRig(sc, seed, o, logger)
	if err != nil {
		return nil, err
	}
	if err := r.claim(); err != nil {
		return nil, err
	}

	runErr := r.run(ctx)
	res, err := r.result(runErr)
	if err != nil {
		return res, err
	}
	if runErr != nil && fault.IsFatal(runErr) {
		return res, runErr
	}
	logger.Debug("scenario finished", "pass", res.Pass, "edges", res.Edges, "digest", res.Digest)
	return res, nil
}

// rig holds everything one run is wired from.
type rig struct {
	sc     *Scenario
	seed   uint64
	logger *slog.Logger

	model string
	b     *binding.Binding
	clk   *edge.Clock
	mon   *check.Monitor

	pokes []poke
	prod  *roles.Producer
	cons  *roles.Consumer

	drained bool
}

type poke struct {
	at    int64
	port  signal.Port
	value uint64
}

func newRig(sc *Scenario, seed uint64, o options, logger *slog.Logger) (*rig, error) {
	polarity, err := binding.ParsePolarity(sc.ResetPolarity)
	if err != nil {
		return nil, err
	}
	spec := device.Spec{
		Model:      sc.Device.Model,
		Convention: device.Convention(sc.Device.Convention),
		Reset:      polarity.ResetStyle(),
		Width:      sc.width(),
	}
	if spec.Model == "" {
		spec.Model = "pipereg"
	}
	dev, err := device.New(spec)
	if err != nil {
		return nil, err
	}

	ports := make(map[signal.Port]string, len(sc.Ports))
	for name, sig := range sc.Ports {
		p, err := signal.ParsePort(name)
		if err != nil {
			return nil, err
		}
		ports[p] = sig
	}
	b, err := binding.New(dev, binding.Config{
		Convention: spec.Convention,
		Polarity:   polarity,
		Ports:      ports,
		Width:      sc.width(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	monOpts := []check.MonitorOption{check.WithLogger(logger)}
	for _, ps := range sc.Probes {
		p, err := ps.probe()
		if err != nil {
			return nil, err
		}
		monOpts = append(monOpts, check.WithProbes(p))
	}
	if sc.Expect.Transfers != nil {
		monOpts = append(monOpts, check.WithExpectedTransfers(*sc.Expect.Transfers))
	}
	mon := check.NewMonitor(monOpts...)
	b.Observe(mon.Observe)

	stall := sc.StallTimeout
	if o.stallTimeout > 0 {
		stall = o.stallTimeout
	}
	clk := edge.New(
		edge.WithPeriod(sc.ClockPeriod),
		edge.WithStallTimeout(stall),
		edge.WithBudget(sc.timeoutEdges()),
		edge.WithLogger(logger),
	)
	b.Attach(clk)

	r := &rig{sc: sc, seed: seed, logger: logger, model: spec.Model, b: b, clk: clk, mon: mon}
	for _, p := range sc.Pokes {
		port, err := signal.ParsePort(p.Port)
		if err != nil {
			return nil, err
		}
		r.pokes = append(r.pokes, poke{at: p.At, port: port, value: p.Value})
	}
	sort.SliceStable(r.pokes, func(i, j int) bool { return r.pokes[i].at < r.pokes[j].at })
	return r, nil
}

// claim partitions write access before any edge fires.
func (r *rig) claim() error {
	if err := r.b.Claim(reset.Role, signal.Reset); err != nil {
		return err
	}
	if r.sc.stimulusMode() != StimulusNone {
		if err := r.b.Claim(roles.ProducerRole, roles.ProducerPorts...); err != nil {
			return err
		}
	}
	if r.sc.acceptMode() != AcceptNone {
		if err := r.b.Claim(roles.ConsumerRole, roles.ConsumerPorts...); err != nil {
			return err
		}
	}
	for _, p := range r.pokes {
		if err := r.b.Claim(DirectedRole, p.port); err != nil {
			return err
		}
	}
	return nil
}

func (r *rig) stimulus() roles.Stimulus {
	if r.sc.stimulusMode() == StimulusRandom {
		return roles.Random{
			Probability: r.sc.OfferProbability,
			Count:       r.sc.TransferCount,
			Seed:        r.seed,
			Mask:        r.b.Mask(),
		}
	}
	return roles.Scripted{Values: r.sc.Values}
}

func (r *rig) policy() roles.AcceptPolicy {
	switch r.sc.acceptMode() {
	case AcceptRandom:
		return roles.RandomAccept{Probability: r.sc.AcceptProbability, Seed: r.seed}
	case AcceptScripted:
		return &roles.Pattern{Bits: r.sc.AcceptPattern}
	case AcceptStall:
		return &roles.Stall{Edges: r.sc.StallEdges}
	}
	return roles.Always{}
}

// run resets the device and then runs every role to completion.
func (r *rig) run(ctx context.Context) error {
	rw := r.clk.Attach(reset.Role)
	seq := reset.New(r.b, r.b.Driver(reset.Role), reset.Config{
		HoldEdges:    r.sc.ResetHoldEdges,
		HoldDuration: r.sc.ResetHoldDuration,
		Logger:       r.logger,
	})
	if _, err := seq.Run(ctx, rw); err != nil {
		rw.Detach()
		return fmt.Errorf("reset: %w", err)
	}
	start := r.clk.Current().Index

	// Every participant attaches while the reset waiter still holds the
	// clock, so none of them can miss an edge.
	g, gctx := errgroup.WithContext(ctx)
	if r.sc.stimulusMode() != StimulusNone {
		w := r.clk.Attach(roles.ProducerRole)
		r.prod = roles.NewProducer(r.b, r.b.Driver(roles.ProducerRole), w, r.logger)
		stim := r.stimulus()
		g.Go(func() error {
			defer w.Detach()
			return r.prod.Run(gctx, stim)
		})
	}
	if r.sc.acceptMode() != AcceptNone {
		w := r.clk.Attach(roles.ConsumerRole)
		count := r.sc.transferCount()
		consOpts := []roles.ConsumerOption{
			roles.WithUntil(func() bool { return r.mon.InCount() >= count }),
			roles.WithConsumerLogger(r.logger),
		}
		if r.sc.DrainEdges != nil {
			consOpts = append(consOpts, roles.WithDrainEdges(*r.sc.DrainEdges))
		}
		r.cons = roles.NewConsumer(r.b, r.b.Driver(roles.ConsumerRole), w, r.policy(), consOpts...)
		g.Go(func() error {
			defer w.Detach()
			if err := r.cons.Run(gctx, count); err != nil {
				return err
			}
			r.drained = true
			return nil
		})
	}
	if len(r.pokes) > 0 {
		w := r.clk.Attach(DirectedRole)
		g.Go(func() error {
			defer w.Detach()
			return r.runPokes(gctx, w, start)
		})
	}
	if r.sc.IdleEdges > 0 {
		g.Go(func() error {
			defer rw.Detach()
			_, err := r.b.Wait(gctx, rw, binding.Idle{Edges: r.sc.IdleEdges})
			return err
		})
	} else {
		rw.Detach()
	}
	return g.Wait()
}

// runPokes stages each poke so that it is committed at edge start+at.
func (r *rig) runPokes(ctx context.Context, src edge.Source, start int64) error {
	drv := r.b.Driver(DirectedRole)
	cur := start
	for _, p := range r.pokes {
		for cur < start+p.at-1 {
			e, err := src.Next(ctx)
			if err != nil {
				return err
			}
			cur = e.Index
		}
		if err := drv.Write(p.port, p.value); err != nil {
			return err
		}
		r.logger.Debug("poke", "port", p.port.String(), "value", p.value, "edge", start+p.at)
	}
	_, err := src.Next(ctx)
	return err
}

// result closes the checks. runErr is the error the roles stopped with.
func (r *rig) result(runErr error) (*Result, error) {
	res := &Result{
		Scenario:  r.sc.Name,
		Model:     r.model,
		Seed:      r.seed,
		Edges:     r.clk.Current().Index,
		ResetEdge: r.mon.ResetEdge(),
		Sent:      []signal.Transfer{},
		Received:  []signal.Transfer{},
		Pass:      true,
	}
	if fault.IsScenarioTimeout(runErr) {
		res.Timeout = true
		res.addError(runErr)
	}
	if r.prod != nil {
		res.Sent = r.prod.Sent()
	}
	if r.cons != nil {
		res.Received = r.cons.Received()
	}

	lists := [][]check.Violation{r.mon.Finish(r.drained)}
	if r.prod != nil {
		// Input driven by pokes is invisible to the roles, so the recorded
		// sequences are only complete when the producer is the sole source.
		lists = append(lists, check.Evaluate(res.Sent, res.Received, r.drained, check.DefaultCapacity))
	}
	verdict := check.NewVerdict(lists...)
	res.Violations = verdict.Violations
	if res.Violations == nil {
		res.Violations = []check.Violation{}
	}
	res.Invariant = verdict.Invariant
	res.FirstEdge = verdict.FirstEdge
	res.Pass = res.Pass && verdict.Pass
	if !res.Pass {
		res.Window = r.mon.Window()
	}

	_, digest, err := canon.MarshalDigest(canon.DomainTranscript, res.Transcript())
	if err != nil {
		return res, fmt.Errorf("transcript: %w", err)
	}
	res.Digest = digest
	return res, nil
}
