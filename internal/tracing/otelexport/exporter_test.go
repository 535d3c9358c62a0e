package otelexport

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/Ebycow/famista/internal/config"
)

func TestStart_NeedsEndpoint(t *testing.T) {
	if _, err := Start(context.Background(), config.TelemetryConfig{}, "dev"); err == nil {
		t.Error("expected error for empty endpoint")
	}
}

func TestShipper_NilStop(t *testing.T) {
	var s *Shipper
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestStart_InstallsProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// The clients connect lazily, so no collector is needed.
	for _, proto := range []string{"http", "grpc"} {
		s, err := Start(context.Background(), config.TelemetryConfig{
			Endpoint: "127.0.0.1:4318",
			Protocol: proto,
			Insecure: true,
		}, "dev")
		if err != nil {
			t.Fatalf("%s: Start: %v", proto, err)
		}
		if otel.GetTracerProvider() != s.provider {
			t.Errorf("%s: global provider not installed", proto)
		}
		if err := s.Stop(context.Background()); err != nil {
			t.Logf("%s: stop: %v", proto, err)
		}
	}
}
