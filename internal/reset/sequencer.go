// Package reset drives the reset signal through the initialization sequence
// that precedes every scenario.
package reset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rvconform/internal/binding"
	"github.com/roach88/rvconform/internal/edge"
)

// Role is the ownership name the sequencer claims the reset port under.
const Role = "reset"

// DefaultHoldEdges is the number of edges reset stays asserted.
const DefaultHoldEdges = 2

// DefaultPostEdges is the number of edges waited after deassertion.
const DefaultPostEdges = 2

// ErrAlreadyRun is returned when a Sequencer is run a second time.
var ErrAlreadyRun = errors.New("reset: sequence already run")

// Config configures the reset sequence. HoldDuration, when set, replaces
// HoldEdges with a simulated-time hold.
type Config struct {
	HoldEdges    int
	HoldDuration time.Duration
	PostEdges    int
	Logger       *slog.Logger
}

// Sequencer asserts reset, holds it, releases it and lets the device settle.
type Sequencer struct {
	b      *binding.Binding
	drv    *binding.Driver
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	ran bool
}

// New creates a sequencer writing through drv, which must own the reset
// port.
func New(b *binding.Binding, drv *binding.Driver, cfg Config) *Sequencer {
	if cfg.HoldEdges <= 0 && cfg.HoldDuration <= 0 {
		cfg.HoldEdges = DefaultHoldEdges
	}
	if cfg.PostEdges <= 0 {
		cfg.PostEdges = DefaultPostEdges
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sequencer{b: b, drv: drv, cfg: cfg, logger: logger}
}

// Run executes the sequence on src and returns the edge at which the
// deassertion was committed. Post-reset edges have elapsed when it returns.
func (s *Sequencer) Run(ctx context.Context, src edge.Source) (edge.Edge, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return edge.Edge{}, ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	if err := s.drv.AssertReset(); err != nil {
		return edge.Edge{}, fmt.Errorf("assert reset: %w", err)
	}
	hold := binding.Idle{Edges: s.cfg.HoldEdges}
	if s.cfg.HoldDuration > 0 {
		hold = binding.Idle{Duration: s.cfg.HoldDuration}
	}
	// The assertion is committed by the first hold edge, so the hold is
	// counted from there.
	if _, err := s.b.Wait(ctx, src, hold); err != nil {
		return edge.Edge{}, fmt.Errorf("hold reset: %w", err)
	}

	if err := s.drv.DeassertReset(); err != nil {
		return edge.Edge{}, fmt.Errorf("deassert reset: %w", err)
	}
	released, err := src.Next(ctx)
	if err != nil {
		return edge.Edge{}, fmt.Errorf("release reset: %w", err)
	}
	if s.cfg.PostEdges > 1 {
		if _, err := s.b.Wait(ctx, src, binding.Idle{Edges: s.cfg.PostEdges - 1}); err != nil {
			return released, fmt.Errorf("post reset: %w", err)
		}
	}
	s.logger.Debug("reset complete", "released", released.Index, "time", released.Time)
	return released, nil
}
