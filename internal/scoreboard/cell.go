package scoreboard

import (
	"sync"
	"time"

	"github.com/Ebycow/famista/internal/sampler"
)

// GateStatus is the last observed gate reading, kept for diagnostics.
type GateStatus struct {
	Values []sampler.ByteValue
	Ready  bool
	At     time.Time
}

// Cell is the shared latest snapshot. The poll loop writes it and any number
// of readers copy it out. The lock is held only for the copy.
type Cell struct {
	mu   sync.RWMutex
	snap Snapshot
	has  bool
	gate GateStatus
}

// Set publishes s as the latest snapshot.
func (c *Cell) Set(s Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.has = true
	c.mu.Unlock()
}

// Get returns a copy of the latest snapshot; ok is false before the first one.
func (c *Cell) Get() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap, c.has
}

// SetGate records the gate bytes of the latest poll.
func (c *Cell) SetGate(values []sampler.ByteValue, ready bool, at time.Time) {
	cp := make([]sampler.ByteValue, len(values))
	copy(cp, values)
	c.mu.Lock()
	c.gate = GateStatus{Values: cp, Ready: ready, At: at}
	c.mu.Unlock()
}

// Gate returns a copy of the last gate reading.
func (c *Cell) Gate() GateStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.gate
	g.Values = append([]sampler.ByteValue(nil), c.gate.Values...)
	return g
}
