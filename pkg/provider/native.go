package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/juspay/hippocampus/pkg/rank"
)

// DefaultNativeDimensions is the bucket count of the native embedder.
const DefaultNativeDimensions = 256

// Native is a deterministic, dependency-free embedder. Each token is
// hashed with SHA-256 into one of D buckets with a hash-derived sign,
// and the accumulated vector is L2-normalized. Identical text always
// embeds identically, which is what the ingestion dedup path needs when
// no model is configured.
type Native struct {
	dims int
}

// NewNative returns a hash embedder with the given bucket count,
// DefaultNativeDimensions when dims <= 0.
func NewNative(dims int) *Native {
	if dims <= 0 {
		dims = DefaultNativeDimensions
	}
	return &Native{dims: dims}
}

var _ Embedder = (*Native)(nil)

func (n *Native) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, n.dims)
	for _, token := range rank.Tokenize(text) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(n.dims)
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec, nil
}

func (n *Native) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := n.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (n *Native) Dimensions() int { return n.dims }

func (n *Native) Name() string { return "native" }
