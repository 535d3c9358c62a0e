// Package channel reads emulated memory over the emulator's request/response
// command interface.
//
// Each Read is an independent round trip. The only ordering guarantee between
// reads is program order; the emulated process keeps running in between.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Address is an offset into the emulated memory space.
type Address uint32

// String renders the address as four upper-case hex digits (C0D3).
func (a Address) String() string {
	return fmt.Sprintf("%04X", uint32(a))
}

var (
	// ErrUnreadable marks a read that produced no trustworthy bytes.
	// It is distinct from any byte value, including zero.
	ErrUnreadable = errors.New("memory unreadable")

	// ErrTimeout is returned when no matching reply arrived before the deadline.
	ErrTimeout = fmt.Errorf("%w: reply timeout", ErrUnreadable)
)

// Channel is the memory query primitive the rest of the system builds on.
// A successful Read returns exactly n bytes.
type Channel interface {
	Read(ctx context.Context, addr Address, n int) ([]byte, error)
}

// Func adapts a plain function to the Channel interface.
type Func func(ctx context.Context, addr Address, n int) ([]byte, error)

// Read calls f.
func (f Func) Read(ctx context.Context, addr Address, n int) ([]byte, error) {
	return f(ctx, addr, n)
}
