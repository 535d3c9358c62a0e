package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Ebycow/famista/pkg/protocol"
)

// rateLimiter enforces per-client-IP request limits using a token bucket.
type rateLimiter struct {
	limiters sync.Map   // ip → *limiterEntry
	r        rate.Limit // refill rate (requests per second)
	burst    int
}

type limiterEntry struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter allowing rpm requests per minute per IP.
// rpm <= 0 disables limiting.
func newRateLimiter(rpm, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 10
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	return &rateLimiter{r: r, burst: burst}
}

func (rl *rateLimiter) enabled() bool { return rl.r > 0 }

// allow reports whether a request from key may proceed.
func (rl *rateLimiter) allow(key string) bool {
	if !rl.enabled() {
		return true
	}
	v, ok := rl.limiters.Load(key)
	if !ok {
		v, _ = rl.limiters.LoadOrStore(key, &limiterEntry{limiter: rate.NewLimiter(rl.r, rl.burst)})
	}
	e := v.(*limiterEntry)
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
	if !e.limiter.Allow() {
		slog.Warn("security.rate_limited", "key", key)
		return false
	}
	return true
}

// run prunes idle entries until ctx is done.
func (rl *rateLimiter) run(ctx context.Context) {
	if !rl.enabled() {
		return
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(time.Now().Add(-10 * time.Minute))
		}
	}
}

func (rl *rateLimiter) cleanup(cutoff time.Time) {
	rl.limiters.Range(func(key, value any) bool {
		e := value.(*limiterEntry)
		e.mu.Lock()
		stale := e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if stale {
			rl.limiters.Delete(key)
		}
		return true
	})
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, protocol.ErrResourceExhausted, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
