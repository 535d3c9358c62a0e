package channel

import (
	"context"

	"golang.org/x/time/rate"
)

type limited struct {
	ch  Channel
	lim *rate.Limiter
}

// Limit paces requests to ch with a token bucket so bulk captures do not
// flood the emulator. rps <= 0 returns ch unchanged.
func Limit(ch Channel, rps float64, burst int) Channel {
	if rps <= 0 {
		return ch
	}
	if burst <= 0 {
		burst = 1
	}
	return &limited{ch: ch, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limited) Read(ctx context.Context, addr Address, n int) ([]byte, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return l.ch.Read(ctx, addr, n)
}
