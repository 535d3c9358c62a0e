package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ebycow/famista/internal/bus"
	"github.com/Ebycow/famista/internal/config"
	overlay "github.com/Ebycow/famista/internal/http"
	"github.com/Ebycow/famista/internal/scoreboard"
	"github.com/Ebycow/famista/internal/store"
	"github.com/Ebycow/famista/internal/watcher"
	"github.com/Ebycow/famista/pkg/protocol"
)

func watchCmd() *cobra.Command {
	var (
		withOverlay bool
		outFile     string
		noStore     bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the scoreboard and print each settled snapshot",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()
			if cmd.Flags().Changed("overlay") {
				cfg.Overlay.Enabled = withOverlay
			}
			if outFile != "" {
				cfg.Overlay.OutFile = outFile
			}
			if noStore {
				cfg.Store.Path = ""
			}
			if err := runWatch(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
		},
	}
	cmd.Flags().BoolVar(&withOverlay, "overlay", false, "serve the HTTP overlay (overrides overlay.enabled)")
	cmd.Flags().StringVar(&outFile, "out", "", "rewrite this file with the latest snapshot line")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not log snapshots to the store")
	return cmd
}

func runWatch(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	shutdownTelemetry := initTelemetry(ctx, cfg)
	defer shutdownTelemetry()

	layout, err := cfg.Layout()
	if err != nil {
		return err
	}
	smp, closeCh := mustOpenSampler(cfg)
	defer closeCh()
	det := mustDetector(cfg)

	var snapLog store.SnapshotLog
	if st := mustOpenStore(cfg); st != nil {
		defer st.Close()
		snapLog = st
	}

	cell := &scoreboard.Cell{}
	b := bus.New()
	b.Subscribe("console", printSnapshot)

	svc := watcher.NewService(watcher.Config{
		Interval: cfg.Poll.Interval(),
		OutFile:  cfg.Overlay.OutFile,
	}, smp, det, scoreboard.NewAssembler(smp, layout), cell, b, snapLog)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	var srv *overlay.Server
	if cfg.Overlay.Enabled {
		srv = overlay.NewServer(overlay.Options{
			Token:        cfg.Overlay.Token,
			HomeName:     cfg.Overlay.HomeName,
			AwayName:     cfg.Overlay.AwayName,
			RateLimitRPM: cfg.Overlay.RateLimitRPM,
		}, cell)
		b.Subscribe("overlay", srv.HandleEvent)
		g.Go(func() error { return srv.Serve(gctx, cfg.Overlay.Addr()) })
	}

	if cw, err := config.NewWatcher(resolveConfigPath(), cfg); err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	} else {
		cw.OnReload(func(prev, next *config.Config) {
			if srv != nil && (prev.Overlay.HomeName != next.Overlay.HomeName || prev.Overlay.AwayName != next.Overlay.AwayName) {
				srv.SetTeamNames(next.Overlay.HomeName, next.Overlay.AwayName)
				slog.Info("team names updated", "home", next.Overlay.HomeName, "away", next.Overlay.AwayName)
			}
			if changedOutsideOverlay(prev, next) {
				slog.Warn("config changed; restart watch to apply non-overlay settings")
			}
		})
		g.Go(func() error {
			if err := cw.Run(gctx); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
			return nil
		})
	}

	slog.Info("watching", "channel", cfg.Channel.Addr(), "overlay", cfg.Overlay.Enabled, "store", cfg.Store.Path)
	return g.Wait()
}

// printSnapshot writes accepted snapshots to stdout.
func printSnapshot(ev bus.Event) {
	switch ev.Name {
	case protocol.EventSnapshot:
		if snap, ok := ev.Payload.(scoreboard.Snapshot); ok {
			fmt.Println(snap.Line())
		}
	case protocol.EventGate:
		if g, ok := ev.Payload.(scoreboard.GateStatus); ok {
			slog.Debug("gate", "ready", g.Ready)
		}
	}
}

func changedOutsideOverlay(prev, next *config.Config) bool {
	a, b := *prev, *next
	a.Overlay, b.Overlay = config.OverlayConfig{}, config.OverlayConfig{}
	a.Log, b.Log = config.LogConfig{}, config.LogConfig{}
	return !reflect.DeepEqual(a, b)
}
