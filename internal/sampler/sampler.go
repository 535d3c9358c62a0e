// Package sampler turns noisy single reads into trusted values.
//
// Stable reads repeat a read several times with a real-time gap in between
// and keep the majority value. Multi-byte regions are voted per offset, so a
// transiently corrupted byte never invalidates its neighbours.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/vote"
)

var tracer = otel.Tracer("github.com/Ebycow/famista/internal/sampler")

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sampler issues reads against a memory channel.
type Sampler struct {
	ch    channel.Channel
	sleep SleepFunc
}

// New creates a sampler over ch.
func New(ch channel.Channel) *Sampler {
	return &Sampler{ch: ch, sleep: Sleep}
}

// WithSleep returns a copy of s that waits with fn (tests use a no-op).
func (s *Sampler) WithSleep(fn SleepFunc) *Sampler {
	cp := *s
	cp.sleep = fn
	return &cp
}

// ReadOne reads a single byte. Any failure yields Unreadable.
func (s *Sampler) ReadOne(ctx context.Context, addr channel.Address) ByteValue {
	b, err := s.ch.Read(ctx, addr, 1)
	if err != nil || len(b) != 1 {
		slog.Debug("sampler: read failed", "addr", addr.String(), "error", err)
		return Unreadable
	}
	return Value(b[0])
}

// ReadRange reads length bytes starting at addr in one round trip.
func (s *Sampler) ReadRange(ctx context.Context, addr channel.Address, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("read range %s: invalid length %d", addr, length)
	}
	b, err := s.ch.Read(ctx, addr, length)
	if err != nil {
		return nil, err
	}
	if len(b) != length {
		return nil, fmt.Errorf("%w: %s returned %d bytes, want %d", channel.ErrUnreadable, addr, len(b), length)
	}
	return b, nil
}

// ReadStable reads addr repetitions times, gap apart, and returns the
// majority value. Unreadable takes part in the vote like any other value; if
// it wins, the caller should discard whatever depends on this read.
func (s *Sampler) ReadStable(ctx context.Context, addr channel.Address, repetitions int, gap time.Duration) ByteValue {
	if repetitions < 1 {
		repetitions = 1
	}
	t := vote.New[ByteValue]()
	for i := 0; i < repetitions; i++ {
		if i > 0 {
			if err := s.sleep(ctx, gap); err != nil {
				return Unreadable
			}
		}
		t.Add(s.ReadOne(ctx, addr))
	}
	v, _, _ := t.Winner()
	if t.Distinct() > 1 {
		slog.Debug("sampler: noisy stable read", "addr", addr.String(), "distinct", t.Distinct(), "winner", v.String())
	}
	return v
}

// CaptureRegionStable reads [base, base+length) repetitions times, gap apart,
// and votes every offset independently. Each pass is split into reads of at
// most chunkSize bytes; the split never shows in the result. A failed chunk
// fails the whole capture attempt.
func (s *Sampler) CaptureRegionStable(ctx context.Context, base channel.Address, length, repetitions int, gap time.Duration, chunkSize int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("capture %s: invalid length %d", base, length)
	}
	if chunkSize <= 0 {
		chunkSize = length
	}
	if repetitions < 1 {
		repetitions = 1
	}

	ctx, span := tracer.Start(ctx, "sampler.capture_region", trace.WithAttributes(
		attribute.String("memory.base", base.String()),
		attribute.Int("memory.len", length),
		attribute.Int("capture.repetitions", repetitions),
		attribute.Int("capture.chunk", chunkSize),
	))
	defer span.End()

	passes := make([][]byte, 0, repetitions)
	for r := 0; r < repetitions; r++ {
		if r > 0 {
			if err := s.sleep(ctx, gap); err != nil {
				return nil, err
			}
		}
		buf, err := s.readChunked(ctx, base, length, chunkSize)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("capture %s+%d pass %d: %w", base, length, r+1, err)
		}
		passes = append(passes, buf)
	}

	return voteColumns(passes, length), nil
}

// CaptureStable captures an arbitrary list of addresses, each read
// repetitions times per pass and voted independently. Any Unreadable winner
// fails the capture.
func (s *Sampler) CaptureStable(ctx context.Context, addrs []channel.Address, repetitions int, gap time.Duration) ([]byte, error) {
	if repetitions < 1 {
		repetitions = 1
	}
	passes := make([][]byte, 0, repetitions)
	for r := 0; r < repetitions; r++ {
		if r > 0 {
			if err := s.sleep(ctx, gap); err != nil {
				return nil, err
			}
		}
		buf := make([]byte, len(addrs))
		for i, a := range addrs {
			v := s.ReadOne(ctx, a)
			if !v.OK {
				return nil, fmt.Errorf("capture %s pass %d: %w", a, r+1, channel.ErrUnreadable)
			}
			buf[i] = v.V
		}
		passes = append(passes, buf)
	}
	return voteColumns(passes, len(addrs)), nil
}

func (s *Sampler) readChunked(ctx context.Context, base channel.Address, length, chunkSize int) ([]byte, error) {
	out := make([]byte, 0, length)
	for off := 0; off < length; off += chunkSize {
		n := min(chunkSize, length-off)
		b, err := s.ReadRange(ctx, base+channel.Address(off), n)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// voteColumns picks the majority byte per offset across passes.
func voteColumns(passes [][]byte, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		t := vote.New[byte]()
		for _, p := range passes {
			t.Add(p[i])
		}
		out[i], _, _ = t.Winner()
	}
	return out
}
