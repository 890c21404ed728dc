package assoc

import (
	"context"
	"math"
	"testing"

	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/store/memstore"
)

func newTestEngine(t *testing.T) (*Engine, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	return New(st, nil), st
}

func seed(t *testing.T, st *memstore.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := st.CreateEngram(context.Background(), &store.Engram{
			ID:          id,
			OwnerID:     "owner1",
			Content:     "content " + id,
			ContentHash: "hash-" + id,
			Strand:      store.StrandGeneral,
			Embedding:   []float32{1, 0},
			Signal:      0.5,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func link(t *testing.T, st *memstore.Store, source, target string, weight float64) {
	t.Helper()
	err := st.CreateSynapse(context.Background(), &store.Synapse{
		OwnerID:  "owner1",
		SourceID: source,
		TargetID: target,
		Weight:   weight,
	})
	if err != nil {
		t.Fatalf("link %s -> %s: %v", source, target, err)
	}
}

func TestAssociateFormsAllPairs(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "a", "b", "c")

	if err := a.Associate(ctx, "owner1", []string{"a", "b", "c"}); err != nil {
		t.Fatalf("associate: %v", err)
	}

	pairs := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}}
	for _, p := range pairs {
		syns, err := st.SynapsesBetween(ctx, "owner1", p[0], p[1])
		if err != nil {
			t.Fatalf("between %v: %v", p, err)
		}
		if len(syns) != 1 {
			t.Fatalf("pair %v: expected exactly 1 synapse, got %d", p, len(syns))
		}
		if syns[0].Weight != InitialWeight {
			t.Errorf("pair %v weight = %f, want %f", p, syns[0].Weight, InitialWeight)
		}
		if syns[0].SourceID != p[0] {
			t.Errorf("pair %v: source = %s, want earlier id", p, syns[0].SourceID)
		}
	}
}

func TestAssociateRepeatSaturates(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "a", "b")

	for i := 0; i < 3; i++ {
		if err := a.Associate(ctx, "owner1", []string{"a", "b"}); err != nil {
			t.Fatalf("associate round %d: %v", i, err)
		}
	}
	syns, _ := st.SynapsesBetween(ctx, "owner1", "a", "b")
	if len(syns) != 1 || syns[0].Weight != 1 {
		t.Errorf("expected one saturated synapse, got %+v", syns)
	}
}

func TestAssociateCollapsesDuplicates(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "a", "b")

	if err := a.Associate(ctx, "owner1", []string{"a", "a", "b"}); err != nil {
		t.Fatalf("associate: %v", err)
	}
	between, _ := st.SynapsesBetween(ctx, "owner1", "a", "a")
	if len(between) != 0 {
		t.Errorf("self synapse formed: %+v", between)
	}
	syns, _ := st.SynapsesFrom(ctx, "owner1", "a")
	if len(syns) != 1 || syns[0].Weight != InitialWeight {
		t.Errorf("a->b should be formed exactly once with initial weight, got %+v", syns)
	}
}

func TestReinforcePathSkipsMissing(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "a", "b", "c")
	link(t, st, "a", "b", 0.5)
	// No synapse between b and c.

	if err := a.ReinforcePath(ctx, "owner1", []string{"a", "b", "c"}, 0.05); err != nil {
		t.Fatalf("reinforce path: %v", err)
	}
	syns, _ := st.SynapsesFrom(ctx, "owner1", "a")
	if math.Abs(syns[0].Weight-0.55) > 1e-9 {
		t.Errorf("a->b weight = %f, want 0.55", syns[0].Weight)
	}
}

func TestExpandDepthAndDecay(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "seed", "hop1", "hop2", "hop3")
	link(t, st, "seed", "hop1", 1.0)
	link(t, st, "hop1", "hop2", 0.5)
	link(t, st, "hop2", "hop3", 1.0)

	boosts, err := a.Expand(ctx, "owner1", []string{"seed"}, DefaultMaxDepth, DefaultDecayFactor)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	if _, ok := boosts["seed"]; ok {
		t.Error("seed must not appear in the expansion")
	}
	// hop1 = 1 * 1.0 * 0.8, hop2 = 0.8 * 0.5 * 0.8
	if math.Abs(boosts["hop1"]-0.8) > 1e-9 {
		t.Errorf("hop1 boost = %f, want 0.8", boosts["hop1"])
	}
	if math.Abs(boosts["hop2"]-0.32) > 1e-9 {
		t.Errorf("hop2 boost = %f, want 0.32", boosts["hop2"])
	}
	if _, ok := boosts["hop3"]; ok {
		t.Error("hop3 is beyond maxDepth 2 and must not be reached")
	}
}

func TestExpandFirstAssignedBoostStands(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "s1", "s2", "shared")
	link(t, st, "s1", "shared", 1.0)
	link(t, st, "s2", "shared", 0.2)

	boosts, err := a.Expand(ctx, "owner1", []string{"s1", "s2"}, 2, 0.8)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	// s1 is dequeued first, so shared gets 1 * 1.0 * 0.8.
	if math.Abs(boosts["shared"]-0.8) > 1e-9 {
		t.Errorf("shared boost = %f, want 0.8 from the first visit", boosts["shared"])
	}
}

func TestExpandSeedsNotRevisited(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "a", "b")
	link(t, st, "a", "b", 1.0)
	link(t, st, "b", "a", 1.0)

	boosts, err := a.Expand(ctx, "owner1", []string{"a"}, 3, 0.8)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if _, ok := boosts["a"]; ok {
		t.Error("cycle must not boost the seed")
	}
	if len(boosts) != 1 {
		t.Errorf("boosts = %v, want only b", boosts)
	}
}

func TestExpandZeroDepth(t *testing.T) {
	a, st := newTestEngine(t)
	ctx := context.Background()
	seed(t, st, "a", "b")
	link(t, st, "a", "b", 1.0)

	boosts, err := a.Expand(ctx, "owner1", []string{"a"}, 0, 0.8)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(boosts) != 0 {
		t.Errorf("boosts = %v, want empty at depth 0", boosts)
	}
}

func TestExpandNoSeeds(t *testing.T) {
	a, _ := newTestEngine(t)
	boosts, err := a.Expand(context.Background(), "owner1", nil, 2, 0.8)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(boosts) != 0 {
		t.Errorf("boosts = %v, want empty", boosts)
	}
}
