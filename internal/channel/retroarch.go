package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a single round trip.
	DefaultTimeout = 500 * time.Millisecond

	maxDatagram = 65535
)

// RetroArchConfig configures the UDP network command client.
type RetroArchConfig struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// RetroArch is a Channel backed by RetroArch's UDP network command interface.
// Round trips are serialized: one request is in flight at a time.
type RetroArch struct {
	conn    *net.UDPConn
	timeout time.Duration

	mu  sync.Mutex
	buf []byte
}

// DialRetroArch opens the UDP socket. UDP is connectionless, so a missing
// emulator only shows up as read timeouts or refused reads later on.
func DialRetroArch(cfg RetroArchConfig) (*RetroArch, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", raddr, err)
	}
	slog.Debug("retroarch channel opened", "remote", raddr.String(), "timeout", cfg.Timeout)
	return &RetroArch{
		conn:    conn,
		timeout: cfg.Timeout,
		buf:     make([]byte, maxDatagram),
	}, nil
}

// Read sends READ_CORE_MEMORY and waits for the matching reply.
// Replies echoing another address are leftovers from timed-out requests and
// are skipped until the deadline.
func (r *RetroArch) Read(ctx context.Context, addr Address, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("read %s: invalid length %d", addr, n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %v", ErrUnreadable, err)
	}

	if _, err := r.conn.Write([]byte(FormatRequest(addr, n))); err != nil {
		return nil, fmt.Errorf("%w: send: %v", ErrUnreadable, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := r.conn.Read(r.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, fmt.Errorf("%w (%s len=%d)", ErrTimeout, addr, n)
			}
			return nil, fmt.Errorf("%w: recv: %v", ErrUnreadable, err)
		}

		data, err := ParseReply(string(r.buf[:m]), addr, n)
		if errors.Is(err, errStaleReply) {
			slog.Debug("retroarch: skipping stale reply", "addr", addr.String())
			continue
		}
		return data, err
	}
}

// Close releases the socket.
func (r *RetroArch) Close() error {
	return r.conn.Close()
}
