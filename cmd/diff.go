package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/config"
	"github.com/Ebycow/famista/internal/regiondiff"
	"github.com/Ebycow/famista/internal/sampler"
)

func diffCmd() *cobra.Command {
	var (
		base        string
		length      int
		intervalMs  int
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Print bytes that change in a memory region between captures",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			if base == "" {
				base = cfg.Capture.Base
			}
			addr, err := config.ParseAddress(base)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if length <= 0 {
				length = cfg.Capture.Length
			}

			ctx, stop := signalContext()
			defer stop()
			smp, closeCh := mustOpenSampler(cfg)
			defer closeCh()

			d := &regionDiffer{
				base: addr,
				capture: func(ctx context.Context) ([]byte, error) {
					return smp.CaptureRegionStable(ctx, addr, length, 1, 0, cfg.CaptureChunk())
				},
				out: os.Stdout,
			}
			if interactive {
				err = d.runInteractive(ctx, os.Stdin)
			} else {
				err = d.runInterval(ctx, time.Duration(intervalMs)*time.Millisecond)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "region start (default capture.base)")
	cmd.Flags().IntVar(&length, "len", 0, "region length in bytes (default capture.length)")
	cmd.Flags().IntVar(&intervalMs, "interval", 500, "milliseconds between captures")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "capture each time Enter is pressed")
	return cmd
}

// regionDiffer compares each capture of a region with the previous one.
type regionDiffer struct {
	base    channel.Address
	capture func(ctx context.Context) ([]byte, error)
	out     io.Writer
	prev    []byte
}

// step captures once and prints the changes since the previous capture.
// The first successful capture only establishes the baseline.
func (d *regionDiffer) step(ctx context.Context) error {
	cur, err := d.capture(ctx)
	if err != nil {
		return err
	}
	if d.prev == nil {
		fmt.Fprintf(d.out, "baseline %s+%d captured\n", d.base, len(cur))
		d.prev = cur
		return nil
	}
	changes := regiondiff.Diff(d.base, d.prev, cur)
	d.prev = cur
	if len(changes) == 0 {
		return nil
	}
	fmt.Fprintf(d.out, "--- %s: %d changed\n", time.Now().Format("15:04:05.000"), len(changes))
	for _, c := range changes {
		fmt.Fprintln(d.out, c)
	}
	return nil
}

func (d *regionDiffer) runInterval(ctx context.Context, interval time.Duration) error {
	for {
		if err := d.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("capture failed", "error", err)
		}
		if err := sampler.Sleep(ctx, interval); err != nil {
			return nil
		}
	}
}

func (d *regionDiffer) runInteractive(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(d.out, "Press Enter to capture, Ctrl+D to stop.")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.step(ctx); err != nil {
			fmt.Fprintf(d.out, "capture failed: %s\n", err)
		}
	}
	return scanner.Err()
}
