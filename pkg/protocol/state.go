package protocol

import "time"

// StateView is the overlay's view of the game. Before the first snapshot it
// carries the zero count, inning 1 TOP and a nil UpdatedAt.
type StateView struct {
	Seq      uint64     `json:"seq"`
	HomeName string     `json:"home_name"`
	AwayName string     `json:"away_name"`
	Home     int        `json:"home"`
	Away     int        `json:"away"`
	Inning   int        `json:"inning"`
	Side     string     `json:"side"`
	Balls    int        `json:"balls"`
	Strikes  int        `json:"strikes"`
	Outs     int        `json:"outs"`
	On1      bool       `json:"on1"`
	On2      bool       `json:"on2"`
	On3      bool       `json:"on3"`
	Line     string     `json:"line,omitempty"`
	Updated  *time.Time `json:"updated_at"`
	Gate     GateView   `json:"gate"`
}

// GateView shows the last gate bytes, "--" when unreadable.
type GateView struct {
	Ready bool     `json:"ready"`
	Hex   []string `json:"hex"`
}
