//go:build otel

package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ebycow/famista/internal/config"
	"github.com/Ebycow/famista/internal/tracing/otelexport"
)

// initTelemetry installs the OTLP trace exporter when telemetry is enabled.
// Only compiled with -tags otel. The returned func flushes pending spans.
func initTelemetry(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set telemetry.enabled + telemetry.endpoint)")
		return func() {}
	}

	sh, err := otelexport.Start(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("span export disabled", "error", err)
		return func() {}
	}
	slog.Info("exporting spans",
		"endpoint", cfg.Telemetry.Endpoint,
		"protocol", cfg.Telemetry.Protocol,
	)

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sh.Stop(sctx); err != nil {
			slog.Warn("span flush failed", "error", err)
		}
	}
}
