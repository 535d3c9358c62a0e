// Package watcher runs the poll loop: gate evaluation every cycle, snapshot
// assembly on settled rising edges, publication of accepted snapshots.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Ebycow/famista/internal/bus"
	"github.com/Ebycow/famista/internal/gate"
	"github.com/Ebycow/famista/internal/scoreboard"
	"github.com/Ebycow/famista/internal/store"
	"github.com/Ebycow/famista/pkg/protocol"
)

const defaultInterval = 20 * time.Millisecond

// Config holds the loop settings.
type Config struct {
	Interval time.Duration // delay between cycles
	OutFile  string        // rewritten with the latest line when set
}

// Stats counts loop outcomes.
type Stats struct {
	Cycles     uint64
	Edges      uint64
	Incomplete uint64
	Emitted    uint64
}

// Service is the poll loop. One goroutine drives it; cycles never overlap.
type Service struct {
	cfg   Config
	r     gate.Reader
	gate  *gate.Detector
	asm   *scoreboard.Assembler
	cell  *scoreboard.Cell
	bus   *bus.Bus
	log   store.SnapshotLog // optional
	clock func() time.Time

	mu        sync.Mutex
	stats     Stats
	lastReady gate.State
	gateSeen  bool
}

// NewService wires the loop. log may be nil.
func NewService(cfg Config, r gate.Reader, det *gate.Detector, asm *scoreboard.Assembler,
	cell *scoreboard.Cell, b *bus.Bus, log store.SnapshotLog) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Service{
		cfg:   cfg,
		r:     r,
		gate:  det,
		asm:   asm,
		cell:  cell,
		bus:   b,
		log:   log,
		clock: time.Now,
	}
}

// Stats returns a copy of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run polls until ctx is done. Read failures never stop the loop.
func (s *Service) Run(ctx context.Context) error {
	slog.Info("watcher started", "interval", s.cfg.Interval, "gates", len(s.gate.Conditions()))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			st := s.Stats()
			slog.Info("watcher stopped", "cycles", st.Cycles, "edges", st.Edges, "emitted", st.Emitted, "incomplete", st.Incomplete)
			return nil
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	reading := s.gate.Poll(ctx, s.r)
	now := s.clock()
	ready := reading.State == gate.Ready
	s.cell.SetGate(reading.Values, ready, now)

	s.mu.Lock()
	s.stats.Cycles++
	gateChanged := !s.gateSeen || reading.State != s.lastReady
	s.gateSeen = true
	s.lastReady = reading.State
	if reading.Edge {
		s.stats.Edges++
	}
	s.mu.Unlock()

	if gateChanged && s.bus != nil {
		s.bus.Broadcast(bus.Event{Name: protocol.EventGate, Payload: s.cell.Gate()})
	}
	if !reading.Edge {
		return
	}

	snap, changed, err := s.asm.Assemble(ctx)
	if err != nil {
		s.mu.Lock()
		s.stats.Incomplete++
		s.mu.Unlock()
		slog.Warn("snapshot discarded", "error", err)
		return
	}
	if !changed {
		slog.Debug("snapshot unchanged", "line", snap.Line())
		return
	}

	s.mu.Lock()
	s.stats.Emitted++
	s.mu.Unlock()
	s.publish(ctx, snap)
}

func (s *Service) publish(ctx context.Context, snap scoreboard.Snapshot) {
	s.cell.Set(snap)
	if s.bus != nil {
		s.bus.Broadcast(bus.Event{Name: protocol.EventSnapshot, Payload: snap})
	}
	if s.log != nil {
		if err := s.log.AppendSnapshot(ctx, snap); err != nil {
			slog.Warn("snapshot log write failed", "seq", snap.Seq, "error", err)
		}
	}
	if s.cfg.OutFile != "" {
		if err := os.WriteFile(s.cfg.OutFile, []byte(snap.Line()+"\n"), 0o644); err != nil {
			slog.Warn("out file write failed", "path", s.cfg.OutFile, "error", err)
		}
	}
}
