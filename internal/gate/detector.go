// Package gate decides when dependent memory is safe to read.
//
// One or more "mode" bytes are compared against known constants every poll.
// The gate is READY only when all of them match at once. Snapshots are taken
// on the strict rising edge NOT_READY -> READY, after a settle delay.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/sampler"
)

// State is the gate state for one poll cycle.
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "READY"
	}
	return "NOT_READY"
}

// Condition is one gate byte and the value it holds when the game is ready.
type Condition struct {
	Addr   channel.Address
	Expect uint8
}

// Reader is the single-byte read the detector needs.
type Reader interface {
	ReadOne(ctx context.Context, addr channel.Address) sampler.ByteValue
}

// Reading is the outcome of one poll.
type Reading struct {
	State   State
	Edge    bool                // qualifying rising edge, settle delay already waited
	Values  []sampler.ByteValue // gate bytes in Condition order
	Matched int                 // how many conditions matched
}

// Detector is the two-state gate machine. It is not safe for concurrent use;
// the poll loop owns it.
type Detector struct {
	conds  []Condition
	settle time.Duration
	sleep  sampler.SleepFunc
	prev   State
}

// NewDetector builds a detector over conds. The initial state is NOT_READY,
// so a gate that is already READY on the first poll fires an edge.
func NewDetector(conds []Condition, settle time.Duration) (*Detector, error) {
	if len(conds) == 0 {
		return nil, errors.New("gate: at least one condition is required")
	}
	cp := make([]Condition, len(conds))
	copy(cp, conds)
	return &Detector{conds: cp, settle: settle, sleep: sampler.Sleep}, nil
}

// WithSleep replaces the settle wait (tests).
func (d *Detector) WithSleep(fn sampler.SleepFunc) *Detector {
	d.sleep = fn
	return d
}

// Conditions returns a copy of the configured gate bytes.
func (d *Detector) Conditions() []Condition {
	cp := make([]Condition, len(d.conds))
	copy(cp, d.conds)
	return cp
}

// Evaluate applies the conjunctive gate to one set of gate byte values.
// An Unreadable byte never matches.
func (d *Detector) Evaluate(values []sampler.ByteValue) (State, int) {
	matched := 0
	for i, c := range d.conds {
		if i < len(values) && values[i].OK && values[i].V == c.Expect {
			matched++
		}
	}
	if matched == len(d.conds) {
		return Ready, matched
	}
	return NotReady, matched
}

// Observe feeds the state of the current cycle and reports whether it is a
// qualifying edge. Repeated READY cycles do not re-trigger.
func (d *Detector) Observe(cur State) bool {
	edge := d.prev == NotReady && cur == Ready
	d.prev = cur
	return edge
}

// State returns the state recorded by the last Observe.
func (d *Detector) State() State { return d.prev }

// Poll reads the gate bytes, advances the state machine and, on a qualifying
// edge, waits the settle delay before returning. If ctx ends during the
// settle wait the edge is dropped.
func (d *Detector) Poll(ctx context.Context, r Reader) Reading {
	values := make([]sampler.ByteValue, len(d.conds))
	for i, c := range d.conds {
		values[i] = r.ReadOne(ctx, c.Addr)
	}

	state, matched := d.Evaluate(values)
	if state == NotReady && matched > 0 {
		slog.Debug("gate: partial match", "matched", matched, "of", len(d.conds), "values", values)
	}

	edge := d.Observe(state)
	if edge && d.settle > 0 {
		if err := d.sleep(ctx, d.settle); err != nil {
			edge = false
		}
	}

	return Reading{State: state, Edge: edge, Values: values, Matched: matched}
}
