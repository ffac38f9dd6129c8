package roles

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/rvconform/internal/binding"
	"github.com/roach88/rvconform/internal/device"
	"github.com/roach88/rvconform/internal/edge"
	"github.com/roach88/rvconform/internal/fault"
	"github.com/roach88/rvconform/internal/signal"
)

type rig struct {
	b     *binding.Binding
	clock *edge.Clock

	mu    sync.Mutex
	snaps []signal.Snapshot
}

func newRig(t *testing.T, model string, opts ...edge.Option) *rig {
	t.Helper()
	dev, err := device.New(device.Spec{Model: model})
	require.NoError(t, err)
	b, err := binding.New(dev, binding.Config{})
	require.NoError(t, err)
	require.NoError(t, b.Claim(ProducerRole, ProducerPorts...))
	require.NoError(t, b.Claim(ConsumerRole, ConsumerPorts...))

	r := &rig{b: b, clock: edge.New(opts...)}
	b.Attach(r.clock)
	b.Observe(func(s signal.Snapshot) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.snaps = append(r.snaps, s)
	})
	return r
}

// run drives a producer and a consumer concurrently to completion.
func (r *rig) run(t *testing.T, stim Stimulus, count int, policy AcceptPolicy) (*Producer, *Consumer, error) {
	t.Helper()
	pw := r.clock.Attach(ProducerRole)
	cw := r.clock.Attach(ConsumerRole)
	p := NewProducer(r.b, r.b.Driver(ProducerRole), pw, nil)
	c := NewConsumer(r.b, r.b.Driver(ConsumerRole), cw, policy, WithDrainEdges(2))

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer pw.Detach()
		return p.Run(ctx, stim)
	})
	g.Go(func() error {
		defer cw.Detach()
		return c.Run(ctx, count)
	})
	return p, c, g.Wait()
}

func TestProducerConsumer_ScriptedAlways(t *testing.T) {
	r := newRig(t, "pipereg")
	p, c, err := r.run(t, Scripted{Values: []uint64{1, 2, 3}}, 3, Always{})
	require.NoError(t, err)

	sent, received := p.Sent(), c.Received()
	assert.Equal(t, []uint64{1, 2, 3}, signal.Payloads(sent))
	assert.Equal(t, []uint64{1, 2, 3}, signal.Payloads(received))
	for i := range sent {
		assert.Equal(t, i, sent[i].Index)
		assert.Equal(t, sent[i].Edge+1, received[i].Edge, "one edge of latency")
	}
	assert.Equal(t, []int64{1, 2, 3}, []int64{sent[0].Edge, sent[1].Edge, sent[2].Edge}, "back-to-back")
}

func TestConsumer_StallThenAccept(t *testing.T) {
	r := newRig(t, "pipereg")
	p, c, err := r.run(t, Scripted{Values: []uint64{0x77}}, 1, &Stall{Edges: 3})
	require.NoError(t, err)

	require.Len(t, p.Sent(), 1)
	require.Len(t, c.Received(), 1)
	assert.Equal(t, int64(1), p.Sent()[0].Edge)
	assert.Equal(t, int64(5), c.Received()[0].Edge)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snaps[1:4] {
		assert.Equal(t, uint64(1), s.Sampled[signal.OutValid], "edge %d", s.Edge)
		assert.Equal(t, uint64(0), s.Sampled[signal.OutReady], "edge %d", s.Edge)
		assert.Equal(t, uint64(0x77), s.Sampled[signal.OutData], "edge %d", s.Edge)
	}
}

func TestProducer_HoldsOfferUntilAccepted(t *testing.T) {
	r := newRig(t, "pipereg")
	_, c, err := r.run(t, Scripted{Values: []uint64{10, 20, 30, 40}}, 4, &Pattern{Bits: []bool{false, false, true}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20, 30, 40}, signal.Payloads(c.Received()))

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 1; i < len(r.snaps); i++ {
		prev, cur := r.snaps[i-1].Sampled, r.snaps[i].Sampled
		if prev.High(signal.InValid) && !prev.High(signal.InReady) {
			assert.True(t, cur.High(signal.InValid), "offer retracted at edge %d", r.snaps[i].Edge)
			assert.Equal(t, prev[signal.InData], cur[signal.InData], "offer changed at edge %d", r.snaps[i].Edge)
		}
	}
}

func TestProducerConsumer_RandomConserves(t *testing.T) {
	r := newRig(t, "pipereg")
	stim := Random{Probability: 0.85, Count: 100, Seed: 7, Mask: 0xFF}
	p, c, err := r.run(t, stim, 100, RandomAccept{Probability: 0.65, Seed: 7})
	require.NoError(t, err)
	assert.Len(t, p.Sent(), 100)
	assert.Equal(t, signal.Payloads(p.Sent()), signal.Payloads(c.Received()))
}

func TestProducerConsumer_Deterministic(t *testing.T) {
	stim := Random{Probability: 0.5, Count: 30, Seed: 99, Mask: 0xFF}
	policy := RandomAccept{Probability: 0.5, Seed: 99}

	_, c1, err := newRig(t, "pipereg").run(t, stim, 30, policy)
	require.NoError(t, err)
	_, c2, err := newRig(t, "pipereg").run(t, stim, 30, policy)
	require.NoError(t, err)
	assert.Equal(t, c1.Received(), c2.Received())
}

func TestConsumer_DrainRecordsExtraTransfers(t *testing.T) {
	r := newRig(t, "pipereg-duplicate")
	_, c, err := r.run(t, Scripted{Values: []uint64{5}}, 1, Always{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 5}, signal.Payloads(c.Received()))
}

func TestConsumer_TimesOut(t *testing.T) {
	r := newRig(t, "pipereg-stuck", edge.WithBudget(20))
	_, c, err := r.run(t, Scripted{Values: []uint64{1}}, 1, Always{})
	require.Error(t, err)
	assert.True(t, fault.IsScenarioTimeout(err))
	assert.Empty(t, c.Received())
}

func TestRandom_PureFunctionOfSeedAndEdge(t *testing.T) {
	r := Random{Probability: 0.5, Count: 10, Seed: 1, Mask: 0xF}
	for e := int64(1); e < 50; e++ {
		v1, ok1 := r.Decide(e, 0)
		v2, ok2 := r.Decide(e, 3)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, v1, v2)
		assert.LessOrEqual(t, v1, uint64(0xF))
	}
	_, ok := r.Decide(1, 10)
	assert.False(t, ok, "exhausted")
	assert.True(t, r.Done(10))

	a := RandomAccept{Probability: 0.5, Seed: 1}
	for e := int64(1); e < 50; e++ {
		assert.Equal(t, a.Ready(e, signal.Snapshot{}), a.Ready(e, signal.Snapshot{}))
	}
}

func TestRandom_ProbabilityBounds(t *testing.T) {
	never := Random{Probability: 0, Count: 1, Seed: 3}
	always := Random{Probability: 1, Count: 1, Seed: 3}
	for e := int64(1); e < 100; e++ {
		_, ok := never.Decide(e, 0)
		assert.False(t, ok)
		_, ok = always.Decide(e, 0)
		assert.True(t, ok)
	}
}

func TestPattern_Cycles(t *testing.T) {
	p := &Pattern{Bits: []bool{true, false}}
	var got []bool
	for i := 0; i < 5; i++ {
		got = append(got, p.Ready(0, signal.Snapshot{}))
	}
	assert.Equal(t, []bool{true, false, true, false, true}, got)
	assert.False(t, (&Pattern{}).Ready(0, signal.Snapshot{}))
}

func TestScripted(t *testing.T) {
	s := Scripted{Values: []uint64{4, 5}}
	v, ok := s.Decide(1, 1)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), v)
	assert.False(t, s.Done(1))
	assert.True(t, s.Done(2))
}
