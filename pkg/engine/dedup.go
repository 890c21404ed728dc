package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/juspay/hippocampus/pkg/rank"
	"github.com/juspay/hippocampus/pkg/store"
)

// Dedup constants.
const (
	// dedupNeighbors is how many vector neighbors the near-duplicate
	// check inspects.
	dedupNeighbors = 5

	// dedupThreshold is the full-cosine floor above which a neighbor
	// counts as the same memory.
	dedupThreshold = 0.92
)

// duplicate is a dedup hit: the engram already holding this content.
type duplicate struct {
	engram     *store.Engram
	similarity float64
}

// findDuplicate runs the two-stage duplicate check: exact content hash
// first, then the top vector neighbors re-scored with full cosine. The
// first neighbor at or above the threshold wins. Returns nil when the
// content is new.
func (e *Engine) findDuplicate(ctx context.Context, ownerID, hash string, embedding []float32) (*duplicate, error) {
	existing, err := e.store.FindByContentHash(ctx, ownerID, hash)
	if err == nil {
		return &duplicate{engram: existing, similarity: 1}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("dedup: %w", err)
	}

	matches, err := e.store.VectorSearch(ctx, ownerID, embedding, dedupNeighbors, "")
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	for _, m := range matches {
		// The store's score may be truncated or remapped; decide on the
		// exact cosine against the stored embedding.
		if cos := rank.CosineSimilarity(embedding, m.Engram.Embedding); cos >= dedupThreshold {
			return &duplicate{engram: m.Engram, similarity: cos}, nil
		}
	}
	return nil, nil
}

// contentHash is the dedup identity of a piece of content for an owner.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func trimmed(s string) string { return strings.TrimSpace(s) }
