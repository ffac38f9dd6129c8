// Package roles implements the two scenario roles that exercise a handshake
// interface: the Producer offers values on the input boundary, the Consumer
// accepts them on the output boundary. Both advance only by awaiting the
// shared edge source and write only through their own binding.Driver.
package roles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/rvconform/internal/binding"
	"github.com/roach88/rvconform/internal/edge"
	"github.com/roach88/rvconform/internal/signal"
)

// ProducerRole is the ownership name of the producer.
const ProducerRole = "producer"

// ProducerPorts are the ports a producer claims.
var ProducerPorts = []signal.Port{signal.InValid, signal.InData}

// Stimulus decides what the producer offers.
type Stimulus interface {
	// Decide is consulted before an edge on which no offer is pending. It
	// returns the value to offer, or false to leave the edge idle.
	Decide(next int64, sent int) (uint64, bool)
	// Done reports whether the stimulus is exhausted after sent transfers.
	Done(sent int) bool
}

// Scripted offers a fixed list of values back-to-back.
type Scripted struct {
	Values []uint64
}

// Decide offers the next scripted value.
func (s Scripted) Decide(_ int64, sent int) (uint64, bool) {
	if sent >= len(s.Values) {
		return 0, false
	}
	return s.Values[sent], true
}

// Done reports whether every value was sent.
func (s Scripted) Done(sent int) bool { return sent >= len(s.Values) }

// Random begins an offer on each idle edge with the given probability,
// offering a random payload, until Count values are sent.
type Random struct {
	Probability float64
	Count       int
	Seed        uint64
	Mask        uint64
}

// Decide is a pure function of the seed and the edge index.
func (r Random) Decide(next int64, sent int) (uint64, bool) {
	if sent >= r.Count {
		return 0, false
	}
	g := draw(r.Seed, streamOffer, next)
	if g.Float64() >= r.Probability {
		return 0, false
	}
	mask := r.Mask
	if mask == 0 {
		mask = signal.Mask(8)
	}
	return g.Uint64() & mask, true
}

// Done reports whether Count values were sent.
func (r Random) Done(sent int) bool { return sent >= r.Count }

// Producer drives the input boundary.
type Producer struct {
	b      *binding.Binding
	drv    *binding.Driver
	src    edge.Source
	logger *slog.Logger

	mu   sync.Mutex
	sent []signal.Transfer
}

// NewProducer creates a producer writing through drv, which must own
// ProducerPorts, and advancing on src.
func NewProducer(b *binding.Binding, drv *binding.Driver, src edge.Source, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Producer{b: b, drv: drv, src: src, logger: logger}
}

// Offer asserts in.valid with v and holds both until the device accepts.
// The transfer is appended to the Sent sequence and in.valid is released
// for the following edge.
func (p *Producer) Offer(ctx context.Context, v uint64) (signal.Transfer, error) {
	if err := p.drv.Write(signal.InValid, 1); err != nil {
		return signal.Transfer{}, err
	}
	if err := p.drv.Write(signal.InData, v); err != nil {
		return signal.Transfer{}, err
	}
	for {
		e, err := p.src.Next(ctx)
		if err != nil {
			return signal.Transfer{}, err
		}
		snap := p.b.Snapshot()
		if !snap.Sampled.Fire(signal.Input) {
			continue
		}
		p.mu.Lock()
		tr := signal.Transfer{Index: len(p.sent), Value: snap.Sampled[signal.InData], Edge: e.Index}
		p.sent = append(p.sent, tr)
		p.mu.Unlock()
		p.logger.Debug("sent", "index", tr.Index, "value", tr.Value, "edge", tr.Edge)

		if err := p.drv.Write(signal.InValid, 0); err != nil {
			return tr, err
		}
		return tr, nil
	}
}

// Run offers values chosen by stim until it is exhausted.
func (p *Producer) Run(ctx context.Context, stim Stimulus) error {
	for {
		n := p.Len()
		if stim.Done(n) {
			return nil
		}
		next := p.b.Snapshot().Edge + 1
		if v, ok := stim.Decide(next, n); ok {
			if _, err := p.Offer(ctx, v); err != nil {
				return fmt.Errorf("offer %d: %w", n, err)
			}
			continue
		}
		if _, err := p.src.Next(ctx); err != nil {
			return err
		}
	}
}

// Sent returns a copy of the Sent sequence.
func (p *Producer) Sent() []signal.Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]signal.Transfer(nil), p.sent...)
}

// Len returns the number of values sent so far.
func (p *Producer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}
