package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/config"
	"github.com/Ebycow/famista/internal/gate"
	"github.com/Ebycow/famista/internal/sampler"
	"github.com/Ebycow/famista/internal/store/sqlite"
)

// openChannel dials RetroArch and layers pacing and tracing over it.
// The returned close func releases the socket.
func openChannel(cfg *config.Config) (channel.Channel, func() error, error) {
	ra, err := channel.DialRetroArch(channel.RetroArchConfig{
		Host:    cfg.Channel.Host,
		Port:    cfg.Channel.Port,
		Timeout: cfg.Channel.Timeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	var ch channel.Channel = ra
	if cfg.Channel.RequestsPerSecond > 0 {
		ch = channel.Limit(ch, cfg.Channel.RequestsPerSecond, cfg.Channel.Burst)
	}
	return channel.Traced(ch), ra.Close, nil
}

// mustOpenSampler opens the channel and wraps it in a sampler, or exits.
func mustOpenSampler(cfg *config.Config) (*sampler.Sampler, func() error) {
	ch, closeFn, err := openChannel(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return sampler.New(ch), closeFn
}

func mustDetector(cfg *config.Config) *gate.Detector {
	conds, err := cfg.GateConditions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	det, err := gate.NewDetector(conds, cfg.Gate.SettleDelay())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return det
}

// mustOpenStore opens the sqlite store, or exits. Returns nil when
// store.path is empty.
func mustOpenStore(cfg *config.Config) *sqlite.Store {
	if cfg.Store.Path == "" {
		return nil
	}
	st, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %s\n", err)
		os.Exit(1)
	}
	return st
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
