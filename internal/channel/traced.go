package channel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/Ebycow/famista/internal/channel")

type traced struct {
	ch Channel
}

// Traced wraps every read in a span. Spans go to the global tracer provider,
// which is a no-op unless the otel build installs an exporter.
func Traced(ch Channel) Channel {
	return &traced{ch: ch}
}

func (t *traced) Read(ctx context.Context, addr Address, n int) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "channel.read", trace.WithAttributes(
		attribute.String("memory.addr", addr.String()),
		attribute.Int("memory.len", n),
	))
	defer span.End()

	data, err := t.ch.Read(ctx, addr, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}
