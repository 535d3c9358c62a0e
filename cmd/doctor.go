package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ebycow/famista/internal/config"
	"github.com/Ebycow/famista/internal/gate"
	"github.com/Ebycow/famista/internal/sampler"
	"github.com/Ebycow/famista/internal/store/sqlite"
	"github.com/Ebycow/famista/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, emulator reachability and the gate",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("famista doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if _, err := cfg.Layout(); err != nil {
		fmt.Printf("  Field layout error: %s\n", err)
		return
	}

	fmt.Println()
	checkStore(cfg)

	fmt.Println()
	fmt.Printf("  Emulator: %s\n", cfg.Channel.Addr())
	ch, closeCh, err := openChannel(cfg)
	if err != nil {
		fmt.Printf("    %-12s FAIL (%s)\n", "socket", err)
		return
	}
	defer closeCh()
	smp := sampler.New(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conds, _ := cfg.GateConditions()
	if len(conds) == 0 {
		return
	}
	start := time.Now()
	v := smp.ReadOne(ctx, conds[0].Addr)
	if !v.OK {
		fmt.Printf("    %-12s FAIL (no reply; is network commands enabled in RetroArch?)\n", "read")
		return
	}
	fmt.Printf("    %-12s OK (%s)\n", "read", time.Since(start).Round(time.Millisecond))

	det, err := gate.NewDetector(conds, 0)
	if err != nil {
		fmt.Printf("    %-12s FAIL (%s)\n", "gate", err)
		return
	}
	r := det.Poll(ctx, smp)
	for i, c := range conds {
		fmt.Printf("    gate %s    got %s want %02X\n", c.Addr, r.Values[i], c.Expect)
	}
	fmt.Printf("    %-12s %s (%d/%d matched)\n", "state", r.State, r.Matched, len(conds))
}

func checkStore(cfg *config.Config) {
	if cfg.Store.Path == "" {
		fmt.Printf("  Store:    %s\n", "disabled")
		return
	}
	fmt.Printf("  Store:    %s", cfg.Store.Path)
	st, err := sqlite.Open(cfg.Store.Path)
	if err != nil {
		fmt.Printf(" (ERROR: %s)\n", err)
		return
	}
	defer st.Close()
	list, err := st.ListSessions(context.Background())
	if err != nil {
		fmt.Printf(" (ERROR: %s)\n", err)
		return
	}
	fmt.Printf(" (OK, %d sessions)\n", len(list))
}
