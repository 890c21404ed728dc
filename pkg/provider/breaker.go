package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
)

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// BreakEmbedder wraps a remote embedder in a circuit breaker so a dead
// provider fails fast instead of stalling every ingestion on timeouts.
func BreakEmbedder(inner Embedder) Embedder {
	return &breakerEmbedder{
		inner: inner,
		cb:    newBreaker(inner.Name() + "-embedder"),
	}
}

// BreakCompleter is the Completer counterpart of BreakEmbedder.
func BreakCompleter(inner Completer) Completer {
	return &breakerCompleter{
		inner: inner,
		cb:    newBreaker(inner.Name() + "-completer"),
	}
}

type breakerEmbedder struct {
	inner Embedder
	cb    *gobreaker.CircuitBreaker[any]
}

func (b *breakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return out.([]float32), nil
}

func (b *breakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, breakerErr(err)
	}
	return out.([][]float32), nil
}

func (b *breakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

func (b *breakerEmbedder) Name() string { return b.inner.Name() }

type breakerCompleter struct {
	inner Completer
	cb    *gobreaker.CircuitBreaker[any]
}

func (b *breakerCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Complete(ctx, system, user)
	})
	if err != nil {
		return "", breakerErr(err)
	}
	return out.(string), nil
}

func (b *breakerCompleter) Name() string { return b.inner.Name() }

// breakerErr keeps every failure classifiable as ErrUnavailable,
// including the breaker's own open-circuit rejections.
func breakerErr(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
