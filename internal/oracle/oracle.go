// Package oracle wraps the language model used to classify chat messages.
// The model is a black box: a prompt goes in, raw text comes out.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/medical-appointment-platform/internal/metrics"
)

var tracer = otel.Tracer("scheduling.internal.oracle")

var (
	ErrTimeout     = errors.New("oracle: timed out")
	ErrUnavailable = errors.New("oracle: unavailable")
)

type Oracle interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Bounded enforces a hard deadline on each call and folds failures into
// ErrTimeout or ErrUnavailable.
type Bounded struct {
	inner    Oracle
	provider string
	timeout  time.Duration
	metrics  *metrics.Metrics
}

func NewBounded(inner Oracle, provider string, timeout time.Duration, m *metrics.Metrics) *Bounded {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bounded{inner: inner, provider: provider, timeout: timeout, metrics: m}
}

func (b *Bounded) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "oracle.generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("oracle.provider", b.provider),
		attribute.Int("oracle.prompt_chars", len(prompt)),
	)

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	out, err := b.inner.Generate(callCtx, prompt)
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		b.metrics.ObserveOracle(b.provider, "ok", elapsed)
		return out, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		b.metrics.ObserveOracle(b.provider, "timeout", elapsed)
		span.RecordError(err)
		return "", fmt.Errorf("%w after %s", ErrTimeout, b.timeout)
	default:
		b.metrics.ObserveOracle(b.provider, "error", elapsed)
		span.RecordError(err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
