// Package assoc maintains the synapse graph: it forms associations among
// co-ingested engrams, reinforces traversed paths, and spreads activation
// outward from retrieval seeds.
package assoc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/store"
)

// Graph constants.
const (
	// InitialWeight is the weight of a freshly formed synapse. Re-forming
	// an existing one adds the same amount, saturating at 1.
	InitialWeight = 0.5

	// DefaultMaxDepth bounds spreading activation.
	DefaultMaxDepth = 2

	// DefaultDecayFactor attenuates boost per traversed hop.
	DefaultDecayFactor = 0.8
)

// Engine runs association operations against a store.
type Engine struct {
	store  store.Store
	logger *zap.Logger
}

// New builds an association engine. A nil logger is replaced with a
// no-op one.
func New(st store.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, logger: logger}
}

// Associate forms a synapse between every unordered pair of the given
// engrams, earlier ID as source. Duplicate IDs in the batch collapse
// first, so an engram never links to itself.
func (a *Engine) Associate(ctx context.Context, ownerID string, engramIDs []string) error {
	ids := dedupe(engramIDs)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			syn := &store.Synapse{
				OwnerID:  ownerID,
				SourceID: ids[i],
				TargetID: ids[j],
				Weight:   InitialWeight,
			}
			if err := a.store.CreateSynapse(ctx, syn); err != nil {
				return fmt.Errorf("associate %s -> %s: %w", ids[i], ids[j], err)
			}
		}
	}
	return nil
}

// ReinforcePath strengthens the directed synapse of each adjacent pair
// along the path. Pairs without a synapse are skipped.
func (a *Engine) ReinforcePath(ctx context.Context, ownerID string, path []string, boost float64) error {
	for i := 0; i+1 < len(path); i++ {
		err := a.store.ReinforceSynapse(ctx, ownerID, path[i], path[i+1], boost)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reinforce path %s -> %s: %w", path[i], path[i+1], err)
		}
	}
	return nil
}

type frontier struct {
	id    string
	boost float64
	depth int
}

// Expand runs breadth-first spreading activation from the seeds along
// outgoing synapses. Each reached engram is assigned
// parentBoost * synapseWeight * decayFactor; a node is visited at most
// once and its first-assigned boost stands. Seeds are not part of the
// result. A maxDepth of zero or less reaches nothing; a non-positive
// decayFactor falls back to the default.
func (a *Engine) Expand(ctx context.Context, ownerID string, seeds []string, maxDepth int, decayFactor float64) (map[string]float64, error) {
	if decayFactor <= 0 {
		decayFactor = DefaultDecayFactor
	}

	boosts := make(map[string]float64)
	visited := make(map[string]bool, len(seeds))
	var queue []frontier
	for _, id := range seeds {
		if id == "" || visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, frontier{id: id, boost: 1, depth: 0})
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.depth >= maxDepth {
			continue
		}

		synapses, err := a.store.SynapsesFrom(ctx, ownerID, node.id)
		if err != nil {
			return nil, fmt.Errorf("expand from %s: %w", node.id, err)
		}
		for _, syn := range synapses {
			if visited[syn.TargetID] {
				continue
			}
			visited[syn.TargetID] = true
			boost := node.boost * syn.Weight * decayFactor
			boosts[syn.TargetID] = boost
			queue = append(queue, frontier{id: syn.TargetID, boost: boost, depth: node.depth + 1})
		}
	}
	a.logger.Debug("expansion complete",
		zap.String("owner_id", ownerID),
		zap.Int("seeds", len(seeds)),
		zap.Int("reached", len(boosts)))
	return boosts, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
