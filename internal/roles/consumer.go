package roles

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/rvconform/internal/binding"
	"github.com/roach88/rvconform/internal/edge"
	"github.com/roach88/rvconform/internal/signal"
)

// ConsumerRole is the ownership name of the consumer.
const ConsumerRole = "consumer"

// ConsumerPorts are the ports a consumer claims.
var ConsumerPorts = []signal.Port{signal.OutReady}

// DefaultDrainEdges is how long the consumer keeps out.ready high after the
// expected transfers arrived.
const DefaultDrainEdges = 4

// AcceptPolicy decides out.ready for the upcoming edge.
type AcceptPolicy interface {
	// Ready is called once per edge with the index of the upcoming edge and
	// the snapshot of the edge that just fired.
	Ready(next int64, last signal.Snapshot) bool
}

// Always keeps out.ready asserted.
type Always struct{}

// Ready always returns true.
func (Always) Ready(int64, signal.Snapshot) bool { return true }

// RandomAccept asserts out.ready with the given probability. The decision is
// a pure function of the seed and the edge index.
type RandomAccept struct {
	Probability float64
	Seed        uint64
}

// Ready draws the decision for edge next.
func (r RandomAccept) Ready(next int64, _ signal.Snapshot) bool {
	return draw(r.Seed, streamAccept, next).Float64() < r.Probability
}

// Pattern replays a scripted sequence of ready levels, cycling at the end.
type Pattern struct {
	Bits []bool
	step int
}

// Ready returns the next level of the pattern.
func (p *Pattern) Ready(int64, signal.Snapshot) bool {
	if len(p.Bits) == 0 {
		return false
	}
	b := p.Bits[p.step%len(p.Bits)]
	p.step++
	return b
}

// Stall withholds readiness for Edges edges after each value becomes pending
// on the output, then accepts it.
type Stall struct {
	Edges   int
	pending int
}

// Ready counts the edges out.valid has been held.
func (s *Stall) Ready(_ int64, last signal.Snapshot) bool {
	if last.Sampled.Fire(signal.Output) {
		s.pending = 0
	}
	if last.Settled.High(signal.OutValid) {
		s.pending++
	}
	return s.pending > s.Edges
}

// Consumer drives out.ready and records the Received sequence.
type Consumer struct {
	b      *binding.Binding
	drv    *binding.Driver
	src    edge.Source
	policy AcceptPolicy
	drain  int
	until  func() bool
	logger *slog.Logger

	mu       sync.Mutex
	received []signal.Transfer
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithDrainEdges sets the number of drain edges.
func WithDrainEdges(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.drain = n
		}
	}
}

// WithUntil delays the drain until done reports true, even when the expected
// number of transfers already arrived. The harness uses it to keep accepting
// until every offer has entered the device.
func WithUntil(done func() bool) ConsumerOption {
	return func(c *Consumer) { c.until = done }
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConsumer creates a consumer writing through drv, which must own
// ConsumerPorts, and advancing on src.
func NewConsumer(b *binding.Binding, drv *binding.Driver, src edge.Source, policy AcceptPolicy, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		b:      b,
		drv:    drv,
		src:    src,
		policy: policy,
		drain:  DefaultDrainEdges,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run accepts transfers until want have been received, then holds out.ready
// high for the drain edges so spurious extra transfers are recorded too.
// Run returns without draining when the context or the edge source fails.
func (c *Consumer) Run(ctx context.Context, want int) error {
	for c.Len() < want || (c.until != nil && !c.until()) {
		last := c.b.Snapshot()
		if err := c.drv.Write(signal.OutReady, b2u(c.policy.Ready(last.Edge+1, last))); err != nil {
			return err
		}
		if err := c.step(ctx); err != nil {
			return err
		}
	}
	if c.drain == 0 {
		return c.drv.Write(signal.OutReady, 0)
	}
	if err := c.drv.Write(signal.OutReady, 1); err != nil {
		return err
	}
	for i := 0; i < c.drain; i++ {
		if err := c.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) step(ctx context.Context) error {
	e, err := c.src.Next(ctx)
	if err != nil {
		return err
	}
	snap := c.b.Snapshot()
	if !snap.Sampled.Fire(signal.Output) {
		return nil
	}
	c.mu.Lock()
	tr := signal.Transfer{Index: len(c.received), Value: snap.Sampled[signal.OutData], Edge: e.Index}
	c.received = append(c.received, tr)
	c.mu.Unlock()
	c.logger.Debug("received", "index", tr.Index, "value", tr.Value, "edge", tr.Edge)
	return nil
}

// Received returns a copy of the Received sequence.
func (c *Consumer) Received() []signal.Transfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signal.Transfer(nil), c.received...)
}

// Len returns the number of values received so far.
func (c *Consumer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
