package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ebycow/famista/internal/config"
)

// Version is set at build time with -ldflags "-X github.com/Ebycow/famista/cmd.Version=...".
var Version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "famista",
	Short: "Famista scoreboard extractor for RetroArch",
	Long: "famista reads emulated memory over RetroArch's network command interface,\n" +
		"publishes the game situation when the scoreboard settles, and learns\n" +
		"where unknown state lives from labeled captures.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(loadConfigQuiet())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $FAMISTA_CONFIG or famista.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(learnCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(diffCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	return config.ResolvePath(cfgFile)
}

// mustLoadConfig loads the config or exits.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// loadConfigQuiet is used before logging is set up; errors surface later
// from mustLoadConfig.
func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Default()
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("famista %s\n", Version)
		},
	}
}
