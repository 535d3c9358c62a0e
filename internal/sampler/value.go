package sampler

import "fmt"

// ByteValue is one observed byte, or the Unreadable marker.
// Unreadable is a category of its own and is never confused with zero.
type ByteValue struct {
	V  uint8
	OK bool
}

// Unreadable marks a failed or timed-out read.
var Unreadable = ByteValue{}

// Value wraps a successfully read byte.
func Value(v uint8) ByteValue {
	return ByteValue{V: v, OK: true}
}

func (b ByteValue) String() string {
	if !b.OK {
		return "--"
	}
	return fmt.Sprintf("%02X", b.V)
}
