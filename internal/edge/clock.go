// Package edge provides the clock that every participant of a scenario
// synchronizes on.
//
// The Clock is a cooperative barrier: each participant attaches once and then
// repeatedly parks in Waiter.Next. When every attached participant is parked
// the edge fires, the registered hooks run (they commit staged writes and
// evaluate the device), and all participants resume together observing the
// same edge. Nobody can observe edge t+1 before everybody has resumed from
// edge t and parked again.
//
// Time is simulated: edge i happens at i × period. Wall-clock time is only
// used to detect a stalled clock.
package edge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rvconform/internal/fault"
)

// DefaultPeriod is the simulated clock period.
const DefaultPeriod = 10 * time.Nanosecond

// DefaultStallTimeout is how long a parked participant waits for an edge
// before failing with a stalled clock error.
const DefaultStallTimeout = 2 * time.Second

// ErrDetached is returned by Next on a waiter that has been detached.
var ErrDetached = errors.New("edge: waiter detached")

// Edge is one rising clock edge.
type Edge struct {
	// Index is 1 for the first edge and increases by one per edge.
	Index int64
	// Time is the simulated time of the edge, Index × period.
	Time time.Duration
}

// Source is anything that yields successive edges.
type Source interface {
	Next(ctx context.Context) (Edge, error)
}

// Hook runs while an edge fires, before participants resume. A hook error
// aborts the clock; every participant receives it.
type Hook func(Edge) error

// generation is the outcome of one barrier round. edge and err are written
// before done is closed and never after.
type generation struct {
	done chan struct{}
	edge Edge
	err  error
}

// Clock is the shared edge source of a scenario.
type Clock struct {
	period time.Duration
	stall  time.Duration
	budget int64
	logger *slog.Logger

	mu       sync.Mutex
	hooks    []Hook
	index    int64
	attached int
	parked   int
	gen      *generation
	err      error
	halted   bool
}

// Option configures a Clock.
type Option func(*Clock)

// WithPeriod sets the simulated clock period.
func WithPeriod(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.period = d
		}
	}
}

// WithStallTimeout sets the wall-clock stall timeout.
func WithStallTimeout(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.stall = d
		}
	}
}

// WithBudget limits the number of edges. Once edge n has fired, every
// further Next fails with a scenario timeout. Zero means unlimited.
func WithBudget(n int64) Option {
	return func(c *Clock) { c.budget = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Clock at edge 0 with no participants.
func New(opts ...Option) *Clock {
	c := &Clock{
		period: DefaultPeriod,
		stall:  DefaultStallTimeout,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		gen:    &generation{done: make(chan struct{})},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEdge registers a hook. Hooks run in registration order, with the clock
// locked, so they must not call back into the Clock.
func (c *Clock) OnEdge(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Period returns the simulated clock period.
func (c *Clock) Period() time.Duration { return c.period }

// Current returns the last edge that fired (index 0 before the first edge).
func (c *Clock) Current() Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.edgeAt(c.index)
}

// Err returns the error that stopped the clock, if any.
func (c *Clock) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Halt stops the clock. No further edge fires; parked participants fail once
// their stall timeout expires.
func (c *Clock) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted = true
}

func (c *Clock) edgeAt(i int64) Edge {
	return Edge{Index: i, Time: time.Duration(i) * c.period}
}

// Attach registers a participant. The returned Waiter must be detached when
// the participant stops awaiting edges, otherwise the clock stalls.
func (c *Clock) Attach(name string) *Waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached++
	return &Waiter{c: c, name: name}
}

// fireLocked advances the clock by one edge, or aborts it when the budget is
// exhausted. Callers hold c.mu.
func (c *Clock) fireLocked() {
	if c.halted {
		return
	}
	if c.budget > 0 && c.index >= c.budget {
		c.logger.Debug("edge budget exhausted", "budget", c.budget)
		c.abortLocked(fault.NewScenarioTimeout(c.budget))
		return
	}
	next := c.edgeAt(c.index + 1)
	for _, h := range c.hooks {
		if err := h(next); err != nil {
			c.index = next.Index
			c.abortLocked(err)
			return
		}
	}
	c.index = next.Index
	g := c.gen
	g.edge = next
	c.gen = &generation{done: make(chan struct{})}
	c.parked = 0
	close(g.done)
}

// abortLocked makes err sticky and releases every parked participant with it.
func (c *Clock) abortLocked(err error) {
	if c.err == nil {
		c.err = err
	}
	g := c.gen
	g.edge = c.edgeAt(c.index)
	g.err = c.err
	c.gen = &generation{done: make(chan struct{})}
	c.parked = 0
	close(g.done)
}

// Waiter is one participant's handle on a Clock.
type Waiter struct {
	c        *Clock
	name     string
	detached bool
}

// Name returns the participant name given to Attach.
func (w *Waiter) Name() string { return w.name }

// Next parks the participant until the next edge fires and returns it.
func (w *Waiter) Next(ctx context.Context) (Edge, error) {
	c := w.c
	c.mu.Lock()
	if w.detached {
		c.mu.Unlock()
		return Edge{}, ErrDetached
	}
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Edge{}, err
	}
	g := c.gen
	c.parked++
	if c.parked == c.attached {
		c.fireLocked()
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.stall)
	defer timer.Stop()

	select {
	case <-g.done:
		return g.edge, g.err
	case <-ctx.Done():
		return w.leave(g, ctx.Err())
	case <-timer.C:
		return w.leave(g, nil)
	}
}

// leave unparks a participant that stopped waiting. If the edge fired in the
// meantime its result wins. A nil cause means the stall timeout expired.
func (w *Waiter) leave(g *generation, cause error) (Edge, error) {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-g.done:
		return g.edge, g.err
	default:
	}
	c.parked--
	if cause != nil {
		return Edge{}, cause
	}
	err := fault.NewStalledClock(c.index, c.stall)
	c.logger.Debug("clock stalled", "participant", w.name, "edge", c.index, "timeout", c.stall)
	c.abortLocked(err)
	return Edge{}, c.err
}

// Detach removes the participant. If every remaining participant is parked,
// the pending edge fires.
func (w *Waiter) Detach() {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.detached {
		return
	}
	w.detached = true
	c.attached--
	if c.attached > 0 && c.parked == c.attached && c.err == nil {
		c.fireLocked()
	}
}
