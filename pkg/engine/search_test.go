package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/temporal"
)

// seedEngram inserts directly into the backing store, bypassing
// ingestion dedup, so tests control embeddings exactly.
func seedEngram(t *testing.T, te *testEngine, id, content string, embedding []float32) {
	t.Helper()
	err := te.st.CreateEngram(context.Background(), &store.Engram{
		ID:          id,
		OwnerID:     "u",
		Content:     content,
		ContentHash: contentHash(content),
		Strand:      store.StrandGeneral,
		Embedding:   embedding,
		Signal:      DefaultSignal,
		PulseRate:   DefaultPulseRate,
		Version:     1,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func assertTraceInvariant(t *testing.T, hits []Hit) {
	t.Helper()
	for _, h := range hits {
		sum := weightVector*h.Trace.VectorScore +
			weightKeyword*h.Trace.KeywordScore +
			h.Trace.RecencyBoost +
			h.Trace.SignalBoost +
			h.Trace.SynapseBoost
		if math.Abs(h.FinalScore-sum) > 1e-9 {
			t.Errorf("hit %s: finalScore %f != component sum %f", h.Engram.ID, h.FinalScore, sum)
		}
		if h.FinalScore < 0 || h.FinalScore > 1+1e-9 {
			t.Errorf("hit %s: finalScore %f out of range", h.Engram.ID, h.FinalScore)
		}
	}
}

func TestSearchValidation(t *testing.T) {
	te := newTestEngine(t, nil, nil)
	ctx := context.Background()

	cases := []SearchInput{
		{Query: "no owner"},
		{OwnerID: "u"},
		{OwnerID: "u", Query: "  "},
		{OwnerID: "u", Query: "q", Limit: -1},
		{OwnerID: "u", Query: "q", Strand: "bogus"},
		{OwnerID: "u", Query: "q", MinScore: 1.5},
	}
	for i, in := range cases {
		if _, err := te.Search(ctx, in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestSearchRanksExactContentFirst(t *testing.T) {
	te := newTestEngine(t, nil, nil)
	ctx := context.Background()

	contents := []string{
		"gophers attend an annual conference in Berlin",
		"the mariana trench is the deepest point of the ocean",
		"sourdough bread needs a mature starter",
	}
	for _, c := range contents {
		if _, err := te.AddMemory(ctx, AddInput{OwnerID: "u", Content: c}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "gophers attend an annual conference in Berlin"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("no hits for an exact content match")
	}
	if res.Hits[0].Engram.Content != contents[0] {
		t.Errorf("top hit = %q, want the exact match", res.Hits[0].Engram.Content)
	}
	if res.Total != len(res.Hits) {
		t.Errorf("total = %d, hits = %d", res.Total, len(res.Hits))
	}
	if res.Query != "gophers attend an annual conference in Berlin" {
		t.Errorf("query echo = %q", res.Query)
	}
	assertTraceInvariant(t, res.Hits)
}

func TestSearchMinFinalScoreGate(t *testing.T) {
	// Orthogonal query, zero keyword overlap: only recency and signal
	// remain, which sit well below the default floor.
	emb := &stubEmbedder{dims: 3, vectors: map[string][]float32{"probe": {0, 0, 1}}}
	te := newTestEngine(t, emb, nil)
	ctx := context.Background()

	seedEngram(t, te, "a", "alpha memory", []float32{1, 0, 0})
	seedEngram(t, te, "b", "beta memory", []float32{0, 1, 0})
	seedEngram(t, te, "c", "gamma memory", []float32{0.7, 0.71414, 0})

	res, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "probe"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("hits = %d, want 0 under the default floor", len(res.Hits))
	}

	res, err = te.Search(ctx, SearchInput{OwnerID: "u", Query: "probe", MinFinalScore: ptr(0.0), Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 2 {
		t.Errorf("hits = %d, want the limit with a zero floor", len(res.Hits))
	}
	assertTraceInvariant(t, res.Hits)
}

func TestSearchKeywordFallback(t *testing.T) {
	emb := &stubEmbedder{dims: 3, vectors: map[string][]float32{"espresso machine": {0, 0, 1}}}
	te := newTestEngine(t, emb, nil)
	ctx := context.Background()

	seedEngram(t, te, "coffee", "the espresso machine needs descaling", []float32{1, 0, 0})
	seedEngram(t, te, "tea", "green tea steeps at eighty degrees", []float32{0, 1, 0})

	// MinScore above the orthogonal-cosine score empties the vector
	// candidate list and forces the lexical path.
	res, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "espresso machine", MinScore: 0.8})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("hits = %d, want 1 keyword hit", len(res.Hits))
	}
	h := res.Hits[0]
	if h.Engram.ID != "coffee" {
		t.Errorf("hit = %s, want the overlapping engram", h.Engram.ID)
	}
	if h.Trace.VectorScore != 0 {
		t.Errorf("fallback vector score = %f, want 0", h.Trace.VectorScore)
	}
	if h.Trace.KeywordScore != 1 {
		t.Errorf("fallback keyword score = %f, want 1 (single positive)", h.Trace.KeywordScore)
	}
	if h.Trace.SynapseBoost != 0 {
		t.Errorf("fallback synapse boost = %f, want 0", h.Trace.SynapseBoost)
	}
	// The fallback ignores the final-score floor by contract.
	if h.FinalScore >= DefaultMinFinalScore {
		t.Logf("fallback hit cleared the floor anyway: %f", h.FinalScore)
	}
	assertTraceInvariant(t, res.Hits)
}

func TestSearchEmptyStoreStillReturnsChronicles(t *testing.T) {
	emb := &stubEmbedder{dims: 2, vectors: map[string][]float32{"server status": {1, 0}}}
	te := newTestEngine(t, emb, nil)
	ctx := context.Background()

	tmp := temporal.New(te.st, nil, temporal.WithClock(func() time.Time { return *te.now }))
	if _, err := tmp.RecordFact(ctx, "u", temporal.RecordInput{
		Entity: "server", Attribute: "status", Value: "running",
	}); err != nil {
		t.Fatal(err)
	}

	res, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "server status"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("hits = %d, want 0 on an empty store", len(res.Hits))
	}
	if len(res.Chronicles) != 1 {
		t.Fatalf("chronicles = %d, want 1", len(res.Chronicles))
	}
	if res.Chronicles[0].Chronicle.Entity != "server" {
		t.Errorf("chronicle match = %+v", res.Chronicles[0].Chronicle)
	}
}

func TestSearchSynapseExpansionBoostsCandidates(t *testing.T) {
	emb := &stubEmbedder{dims: 3, vectors: map[string][]float32{"probe": {1, 0, 0}}}
	te := newTestEngine(t, emb, nil)
	ctx := context.Background()

	// Five candidates outrank "far"; the expansion seeds are the top
	// five, so "far" can only surface a boost through the synapse.
	seedEngram(t, te, "top", "top candidate", []float32{1, 0, 0})
	seedEngram(t, te, "m1", "mid one", []float32{0.9, 0.43589, 0})
	seedEngram(t, te, "m2", "mid two", []float32{0.85, 0, 0.52678})
	seedEngram(t, te, "m3", "mid three", []float32{0.8, 0.6, 0})
	seedEngram(t, te, "m4", "mid four", []float32{0.75, 0, 0.66144})
	seedEngram(t, te, "far", "far association", []float32{0, 0, 1})

	err := te.st.CreateSynapse(ctx, &store.Synapse{
		OwnerID: "u", SourceID: "top", TargetID: "far", Weight: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "probe", MinFinalScore: ptr(0.0)})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	var farHit *Hit
	for i := range res.Hits {
		if res.Hits[i].Engram.ID == "far" {
			farHit = &res.Hits[i]
		}
	}
	if farHit == nil {
		t.Fatal("far engram missing from hits")
	}
	// boost = 1 (seed) * 1.0 (weight) * 0.8 (decay), weighted by 0.15.
	want := weightSynapse * 0.8
	if math.Abs(farHit.Trace.SynapseBoost-want) > 1e-9 {
		t.Errorf("synapse boost = %f, want %f", farHit.Trace.SynapseBoost, want)
	}
	assertTraceInvariant(t, res.Hits)

	// Disabling expansion zeroes the component.
	res, err = te.Search(ctx, SearchInput{OwnerID: "u", Query: "probe", MinFinalScore: ptr(0.0), ExpandSynapses: ptr(false)})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range res.Hits {
		if h.Trace.SynapseBoost != 0 {
			t.Errorf("expansion disabled but %s carries boost %f", h.Engram.ID, h.Trace.SynapseBoost)
		}
	}
}

func TestSearchRecencyBoost(t *testing.T) {
	te := newTestEngine(t, nil, nil)
	ctx := context.Background()

	if _, err := te.AddMemory(ctx, AddInput{OwnerID: "u", Content: "a fresh memory about espresso"}); err != nil {
		t.Fatal(err)
	}

	// Just accessed: full recency weight.
	res, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "a fresh memory about espresso"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(res.Hits))
	}
	if math.Abs(res.Hits[0].Trace.RecencyBoost-weightRecency) > 1e-9 {
		t.Errorf("recency = %f, want full weight %f", res.Hits[0].Trace.RecencyBoost, weightRecency)
	}

	// A week later the boost has decayed measurably.
	te.Close() // settle detached reinforcement before moving the clock
	*te.now = te.now.Add(7 * 24 * time.Hour)
	res, err = te.Search(ctx, SearchInput{OwnerID: "u", Query: "a fresh memory about espresso", MinFinalScore: ptr(0.0)})
	if err != nil {
		t.Fatal(err)
	}
	want := weightRecency * math.Exp(-1) * (1 - 7.0/90)
	if math.Abs(res.Hits[0].Trace.RecencyBoost-want) > 1e-6 {
		t.Errorf("recency after 7 days = %f, want %f", res.Hits[0].Trace.RecencyBoost, want)
	}
	assertTraceInvariant(t, res.Hits)
}

func TestSearchReinforcesReturnedEngrams(t *testing.T) {
	te := newTestEngine(t, nil, nil)
	ctx := context.Background()

	engrams, err := te.AddMemory(ctx, AddInput{OwnerID: "u", Content: "reinforce me on access"})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := te.st.GetEngram(ctx, "u", engrams[0].ID)

	if _, err := te.Search(ctx, SearchInput{OwnerID: "u", Query: "reinforce me on access"}); err != nil {
		t.Fatal(err)
	}
	te.Close() // wait for the detached reinforcement

	after, err := te.st.GetEngram(ctx, "u", engrams[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.AccessCount != before.AccessCount+1 {
		t.Errorf("access count = %d, want %d", after.AccessCount, before.AccessCount+1)
	}
	if after.Signal <= before.Signal {
		t.Errorf("signal must increase on access: %f -> %f", before.Signal, after.Signal)
	}
}

func TestSearchOwnerIsolation(t *testing.T) {
	te := newTestEngine(t, nil, nil)
	ctx := context.Background()

	if _, err := te.AddMemory(ctx, AddInput{OwnerID: "alice", Content: "alice has a secret garden"}); err != nil {
		t.Fatal(err)
	}
	res, err := te.Search(ctx, SearchInput{OwnerID: "bob", Query: "alice has a secret garden", MinFinalScore: ptr(0.0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("bob sees alice's memories: %d hits", len(res.Hits))
	}
}

func TestSearchEmbedderFailureIsFatal(t *testing.T) {
	te := newTestEngine(t, failingEmbedder{}, nil)
	if _, err := te.Search(context.Background(), SearchInput{OwnerID: "u", Query: "anything"}); err == nil {
		t.Fatal("embedder failure must fail the search")
	}
}
