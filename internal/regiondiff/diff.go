// Package regiondiff compares two captures of the same memory region.
package regiondiff

import (
	"fmt"

	"github.com/Ebycow/famista/internal/channel"
)

// Change is one byte that differs between two captures.
type Change struct {
	Addr channel.Address
	Old  byte
	New  byte
}

// Diff lists the offsets where prev and cur differ, lowest address first.
// Only the common prefix is compared.
func Diff(base channel.Address, prev, cur []byte) []Change {
	n := min(len(prev), len(cur))
	var out []Change
	for i := 0; i < n; i++ {
		if prev[i] != cur[i] {
			out = append(out, Change{Addr: base + channel.Address(i), Old: prev[i], New: cur[i]})
		}
	}
	return out
}

// BCD decodes v as two packed decimal digits. ok is false when either
// nibble is above 9.
func BCD(v byte) (int, bool) {
	hi, lo := v>>4, v&0x0F
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return int(hi)*10 + int(lo), true
}

// String renders the change with a BCD hint when either side decodes.
func (c Change) String() string {
	s := fmt.Sprintf("%s: %02X -> %02X (%d -> %d)", c.Addr, c.Old, c.New, c.Old, c.New)
	oldBCD, okOld := BCD(c.Old)
	newBCD, okNew := BCD(c.New)
	if okOld || okNew {
		s += fmt.Sprintf("  (BCD %s -> %s)", bcdText(oldBCD, okOld), bcdText(newBCD, okNew))
	}
	return s
}

func bcdText(v int, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprint(v)
}
