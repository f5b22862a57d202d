package llm

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Request is one generation request.
type Request struct {
	Prompt            string
	SystemInstruction string
}

// Generator is the generation contract used by the planner and the council.
// Stream delivers fragments on the first channel; both channels close when the
// stream ends and the error channel carries at most one error.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (<-chan string, <-chan error)
}

// Provider is one provider tier. *Client satisfies it.
type Provider interface {
	Label() string
	Chat(ctx context.Context, system, user string) (string, Usage, error)
	ChatStream(ctx context.Context, system, user string) (<-chan string, <-chan error)
}

// ErrNoProvider is returned when a Tiered generator has no usable tier.
var ErrNoProvider = errors.New("llm: no provider configured")

var metricFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "overseer",
	Name:      "generation_fallbacks_total",
	Help:      "Generation requests retried against the secondary tier.",
})

var tracer trace.Tracer = otel.Tracer("github.com/haricheung/overseer/internal/llm")

// Tiered issues requests against a primary tier and retries once against a
// secondary (cheaper, faster) tier when the primary fails.
//
// Expectations:
//   - Generate returns the primary result when the primary succeeds
//   - Generate retries exactly once on the secondary when the primary fails
//   - Generate returns an error wrapping both failures when both tiers fail
//   - Stream falls back only when the primary failed before its first fragment
//   - Stream surfaces a mid-stream primary failure without retrying (fragments already delivered)
//   - A nil secondary disables fallback
type Tiered struct {
	primary   Provider
	secondary Provider
}

// NewTiered builds a fallback generator. secondary may be nil.
func NewTiered(primary, secondary Provider) *Tiered {
	return &Tiered{primary: primary, secondary: secondary}
}

// Generate returns the buffered response text.
func (t *Tiered) Generate(ctx context.Context, req Request) (string, error) {
	if t.primary == nil {
		return "", ErrNoProvider
	}
	ctx, span := tracer.Start(ctx, "llm.Generate", trace.WithAttributes(attribute.String("llm.tier", t.primary.Label())))
	defer span.End()

	text, _, err := t.primary.Chat(ctx, req.SystemInstruction, req.Prompt)
	if err == nil {
		return text, nil
	}
	if t.secondary == nil || ctx.Err() != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	log.Printf("[LLM] WARNING: %s tier failed (%v) — retrying on %s", t.primary.Label(), err, t.secondary.Label())
	metricFallbacks.Inc()
	span.SetAttributes(attribute.Bool("llm.fallback", true), attribute.String("llm.fallback_tier", t.secondary.Label()))

	text, _, err2 := t.secondary.Chat(ctx, req.SystemInstruction, req.Prompt)
	if err2 != nil {
		span.SetStatus(codes.Error, err2.Error())
		return "", fmt.Errorf("llm: primary: %v; secondary: %w", err, err2)
	}
	return text, nil
}

// Stream returns an incremental stream of text fragments.
func (t *Tiered) Stream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	fragCh := make(chan string, 16)
	errCh := make(chan error, 1)
	if t.primary == nil {
		errCh <- ErrNoProvider
		close(fragCh)
		close(errCh)
		return fragCh, errCh
	}

	go func() {
		defer close(fragCh)
		defer close(errCh)

		ctx, span := tracer.Start(ctx, "llm.Stream", trace.WithAttributes(attribute.String("llm.tier", t.primary.Label())))
		defer span.End()

		delivered, err := pipe(ctx, t.primary, req, fragCh)
		if err == nil {
			return
		}
		if delivered > 0 || t.secondary == nil || ctx.Err() != nil {
			span.SetStatus(codes.Error, err.Error())
			errCh <- err
			return
		}

		log.Printf("[LLM] WARNING: %s stream failed before first fragment (%v) — retrying on %s", t.primary.Label(), err, t.secondary.Label())
		metricFallbacks.Inc()
		span.SetAttributes(attribute.Bool("llm.fallback", true), attribute.String("llm.fallback_tier", t.secondary.Label()))

		if _, err2 := pipe(ctx, t.secondary, req, fragCh); err2 != nil {
			span.SetStatus(codes.Error, err2.Error())
			errCh <- fmt.Errorf("llm: primary: %v; secondary: %w", err, err2)
		}
	}()
	return fragCh, errCh
}

// pipe forwards one provider stream into out and reports how many fragments it delivered.
func pipe(ctx context.Context, p Provider, req Request, out chan<- string) (int, error) {
	frags, errs := p.ChatStream(ctx, req.SystemInstruction, req.Prompt)
	n := 0
	for f := range frags {
		select {
		case out <- f:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	if err := <-errs; err != nil {
		return n, err
	}
	return n, nil
}
