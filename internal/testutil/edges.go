package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/rvconform/internal/edge"
)

// ManualEdges is an edge source for a single participant. Every Next fires
// the next edge immediately, running the hook first. It lets tests drive a
// binding step by step without a barrier clock.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex,
// though edges are only meaningful with one caller.
type ManualEdges struct {
	mu     sync.Mutex
	period time.Duration
	index  int64
	hook   edge.Hook
}

// NewManualEdges creates a source at edge 0. hook may be nil.
func NewManualEdges(period time.Duration, hook edge.Hook) *ManualEdges {
	if period <= 0 {
		period = edge.DefaultPeriod
	}
	return &ManualEdges{period: period, hook: hook}
}

// Next fires and returns the next edge.
func (m *ManualEdges) Next(ctx context.Context) (edge.Edge, error) {
	if err := ctx.Err(); err != nil {
		return edge.Edge{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := edge.Edge{Index: m.index + 1, Time: time.Duration(m.index+1) * m.period}
	if m.hook != nil {
		if err := m.hook(e); err != nil {
			return edge.Edge{}, err
		}
	}
	m.index = e.Index
	return e, nil
}

// Current returns the index of the last edge fired.
func (m *ManualEdges) Current() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Reset restarts at edge 0.
func (m *ManualEdges) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = 0
}
