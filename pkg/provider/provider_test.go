package provider

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestNativeEmbedDeterministic(t *testing.T) {
	n := NewNative(64)
	ctx := context.Background()

	a, err := n.Embed(ctx, "the cache invalidation problem")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := n.Embed(ctx, "the cache invalidation problem")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("dims = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d: %g vs %g", i, a[i], b[i])
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm^2 = %g, want 1", norm)
	}

	other, _ := n.Embed(ctx, "a completely different sentence about birds")
	same := true
	for i := range a {
		if a[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts embedded identically")
	}
}

func TestNativeDefaults(t *testing.T) {
	n := NewNative(0)
	if n.Dimensions() != DefaultNativeDimensions {
		t.Errorf("dims = %d, want %d", n.Dimensions(), DefaultNativeDimensions)
	}
	if n.Name() != "native" {
		t.Errorf("name = %q", n.Name())
	}

	// Text with no tokens embeds to the zero vector, not an error.
	vec, err := n.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("embed blank: %v", err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("blank text produced a non-zero vector")
		}
	}
}

func TestNativeEmbedBatch(t *testing.T) {
	n := NewNative(32)
	ctx := context.Background()

	texts := []string{"first", "second"}
	batch, err := n.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch = %d vectors, want 2", len(batch))
	}
	single, _ := n.Embed(ctx, "first")
	for i := range single {
		if batch[0][i] != single[i] {
			t.Fatal("batch result differs from single embed")
		}
	}
}

type flakyEmbedder struct {
	calls int
	fail  bool
}

func (f *flakyEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return []float32{1, 0}, nil
}

func (f *flakyEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return [][]float32{{1, 0}}, nil
}

func (f *flakyEmbedder) Dimensions() int { return 2 }
func (f *flakyEmbedder) Name() string    { return "flaky" }

func TestBreakerClassifiesFailures(t *testing.T) {
	inner := &flakyEmbedder{fail: true}
	embedder := BreakEmbedder(inner)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := embedder.Embed(ctx, "x"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: err = %v, want ErrUnavailable", i, err)
		}
	}

	// Five consecutive failures open the circuit: the inner embedder
	// stops being called.
	before := inner.calls
	if _, err := embedder.Embed(ctx, "x"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("open circuit err = %v, want ErrUnavailable", err)
	}
	if inner.calls != before {
		t.Errorf("inner called %d times after open, want %d", inner.calls, before)
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	embedder := BreakEmbedder(&flakyEmbedder{})
	vec, err := embedder.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 2 || embedder.Dimensions() != 2 || embedder.Name() != "flaky" {
		t.Errorf("passthrough wrong: vec=%v dims=%d name=%q", vec, embedder.Dimensions(), embedder.Name())
	}
}
