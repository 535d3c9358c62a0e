// Package scoreboard assembles consistent game-state snapshots from the
// fields read at a gate edge.
package scoreboard

import (
	"fmt"
	"time"

	"github.com/Ebycow/famista/internal/channel"
)

// Side is the half of an inning.
type Side string

const (
	Top    Side = "TOP"
	Bottom Side = "BOTTOM"
)

// DecodeHalf maps the raw half-inning counter to an inning number and side:
// 0 is the top of the 1st, 1 the bottom of the 1st, 2 the top of the 2nd.
// Values are not bounds-checked; extra innings decode the same way.
func DecodeHalf(half uint8) (int, Side) {
	inning := int(half)/2 + 1
	if half%2 == 0 {
		return inning, Top
	}
	return inning, Bottom
}

// Snapshot is one accepted game state. Snapshots are values; a newer one
// supersedes an older one and nothing is ever edited in place.
type Snapshot struct {
	Balls   uint8
	Strikes uint8
	Outs    uint8
	Half    uint8
	Inning  int
	Side    Side
	Bases   [3]bool // first, second, third
	Home    uint8
	Away    uint8
	Seq     uint64
	At      time.Time
}

// Line is the human-readable form used for printing and change suppression.
// Seq and At are not part of it.
func (s Snapshot) Line() string {
	return fmt.Sprintf("%d %s  B/S/O=%d/%d/%d  1B=%s 2B=%s 3B=%s  HOME=%d AWAY=%d",
		s.Inning, s.Side, s.Balls, s.Strikes, s.Outs,
		baseMark(s.Bases[0]), baseMark(s.Bases[1]), baseMark(s.Bases[2]),
		s.Home, s.Away)
}

func baseMark(on bool) string {
	if on {
		return "●"
	}
	return "○"
}

// Layout says where each field lives and how scores are read.
type Layout struct {
	Balls   channel.Address
	Strikes channel.Address
	Outs    channel.Address
	Half    channel.Address
	Bases   [3]channel.Address
	Home    channel.Address
	Away    channel.Address

	ScoreRepetitions int
	ScoreGap         time.Duration
}
