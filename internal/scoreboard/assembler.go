package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/sampler"
)

// ErrIncomplete means at least one field was unreadable and the snapshot was
// discarded as a whole.
var ErrIncomplete = errors.New("incomplete snapshot")

// FieldReader is the part of the sampler the assembler uses.
type FieldReader interface {
	ReadOne(ctx context.Context, addr channel.Address) sampler.ByteValue
	ReadStable(ctx context.Context, addr channel.Address, repetitions int, gap time.Duration) sampler.ByteValue
}

// Raw holds the field bytes of one edge, before any filtering.
type Raw struct {
	Balls, Strikes, Outs, Half sampler.ByteValue
	Bases                      [3]sampler.ByteValue
	Home, Away                 sampler.ByteValue
}

func (r Raw) missing() []string {
	var out []string
	check := func(name string, v sampler.ByteValue) {
		if !v.OK {
			out = append(out, name)
		}
	}
	check("balls", r.Balls)
	check("strikes", r.Strikes)
	check("outs", r.Outs)
	check("half", r.Half)
	check("base1", r.Bases[0])
	check("base2", r.Bases[1])
	check("base3", r.Bases[2])
	check("home", r.Home)
	check("away", r.Away)
	return out
}

// Assembler turns edge reads into snapshots. It keeps the monotonic score
// filter and the last emitted line, so one Assembler belongs to one poll
// loop.
type Assembler struct {
	r      FieldReader
	layout Layout
	now    func() time.Time

	hasScore bool
	home     uint8
	away     uint8
	lastLine string
	seq      uint64
}

// NewAssembler creates an assembler reading fields through r.
func NewAssembler(r FieldReader, layout Layout) *Assembler {
	return &Assembler{r: r, layout: layout, now: time.Now}
}

// Read performs the edge reads: single reads for the counters, half and
// bases, stable reads for both scores.
func (a *Assembler) Read(ctx context.Context) Raw {
	l := a.layout
	raw := Raw{
		Balls:   a.r.ReadOne(ctx, l.Balls),
		Strikes: a.r.ReadOne(ctx, l.Strikes),
		Outs:    a.r.ReadOne(ctx, l.Outs),
		Half:    a.r.ReadOne(ctx, l.Half),
	}
	for i, addr := range l.Bases {
		raw.Bases[i] = a.r.ReadOne(ctx, addr)
	}
	raw.Home = a.r.ReadStable(ctx, l.Home, l.ScoreRepetitions, l.ScoreGap)
	raw.Away = a.r.ReadStable(ctx, l.Away, l.ScoreRepetitions, l.ScoreGap)
	return raw
}

// Assemble reads the fields and accepts them. See Accept.
func (a *Assembler) Assemble(ctx context.Context) (Snapshot, bool, error) {
	return a.Accept(a.Read(ctx))
}

// Accept builds a snapshot from raw. It returns ErrIncomplete (naming the
// unreadable fields) without touching any state if a field is missing.
// Otherwise scores below the last accepted value are clamped to it, and
// changed reports whether the line differs from the last emitted one. Only
// changed snapshots get a new Seq.
func (a *Assembler) Accept(raw Raw) (snap Snapshot, changed bool, err error) {
	if miss := raw.missing(); len(miss) > 0 {
		return Snapshot{}, false, fmt.Errorf("%w: unreadable %s", ErrIncomplete, strings.Join(miss, ", "))
	}

	home, away := raw.Home.V, raw.Away.V
	if a.hasScore {
		home = max(home, a.home)
		away = max(away, a.away)
	}
	a.hasScore = true
	a.home, a.away = home, away

	inning, side := DecodeHalf(raw.Half.V)
	snap = Snapshot{
		Balls:   raw.Balls.V,
		Strikes: raw.Strikes.V,
		Outs:    raw.Outs.V,
		Half:    raw.Half.V,
		Inning:  inning,
		Side:    side,
		Home:    home,
		Away:    away,
		At:      a.now(),
	}
	for i, b := range raw.Bases {
		snap.Bases[i] = b.V != 0
	}

	line := snap.Line()
	if line == a.lastLine {
		snap.Seq = a.seq
		return snap, false, nil
	}
	a.lastLine = line
	a.seq++
	snap.Seq = a.seq
	return snap, true, nil
}

// Scores returns the current monotonic filter state.
func (a *Assembler) Scores() (home, away uint8, ok bool) {
	return a.home, a.away, a.hasScore
}
