package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/juspay/hippocampus/pkg/assoc"
	"github.com/juspay/hippocampus/pkg/rank"
	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/temporal"
)

// Fusion weights. They sum to 1; each component contributes at most its
// weight to the final score.
const (
	weightVector  = 0.30
	weightKeyword = 0.30
	weightRecency = 0.10
	weightSignal  = 0.15
	weightSynapse = 0.15
)

// Search defaults.
const (
	DefaultLimit         = 10
	DefaultMinFinalScore = 0.35

	// candidateMultiplier sizes the vector shortlist relative to the
	// requested limit.
	candidateMultiplier = 3

	// expansionSeeds is how many top vector candidates seed the synapse
	// expansion.
	expansionSeeds = 5
)

// Recency boost shape: half-life style falloff over the first week,
// hard cutoff at 90 days.
const (
	recencyHalfLifeDays = 7
	recencyCutoffDays   = 90
)

// SearchInput is one retrieval request.
type SearchInput struct {
	OwnerID string `json:"ownerId"`
	Query   string `json:"query"`

	// Limit caps the hits; 0 means DefaultLimit.
	Limit int `json:"limit,omitempty"`

	// Strand restricts candidates to one memory class.
	Strand store.Strand `json:"strand,omitempty"`

	// MinScore drops vector candidates below this pre-fusion score.
	MinScore float64 `json:"minScore,omitempty"`

	// MinFinalScore drops fused hits below it; nil means the default.
	// It is not applied on the keyword fallback path.
	MinFinalScore *float64 `json:"minFinalScore,omitempty"`

	// ExpandSynapses toggles graph expansion; nil means on.
	ExpandSynapses *bool `json:"expandSynapses,omitempty"`
}

func (in SearchInput) validate() error {
	if in.OwnerID == "" {
		return fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	if trimmed(in.Query) == "" {
		return fmt.Errorf("%w: query must not be blank", store.ErrInvalidInput)
	}
	if in.Limit < 0 {
		return fmt.Errorf("%w: limit must be positive", store.ErrInvalidInput)
	}
	if in.Strand != "" && !in.Strand.Valid() {
		return fmt.Errorf("%w: unknown strand %q", store.ErrInvalidInput, in.Strand)
	}
	if in.MinScore < 0 || in.MinScore > 1 {
		return fmt.Errorf("%w: minScore must be in [0,1]", store.ErrInvalidInput)
	}
	return nil
}

// Trace breaks a hit's final score into its fused components. The
// vector and keyword scores are normalized to [0,1]; the three boosts
// already carry their fusion weights. FinalScore equals
// 0.30*VectorScore + 0.30*KeywordScore + RecencyBoost + SignalBoost +
// SynapseBoost.
type Trace struct {
	VectorScore  float64 `json:"vectorScore"`
	KeywordScore float64 `json:"keywordScore"`
	RecencyBoost float64 `json:"recencyBoost"`
	SignalBoost  float64 `json:"signalBoost"`
	SynapseBoost float64 `json:"synapseBoost"`
}

// Hit is one retrieved engram with its fused score.
type Hit struct {
	Engram     *store.Engram `json:"engram"`
	FinalScore float64       `json:"finalScore"`
	Trace      Trace         `json:"trace"`
}

// Result is the full retrieval response.
type Result struct {
	Hits       []Hit            `json:"hits"`
	Chronicles []temporal.Match `json:"chronicles"`
	Total      int              `json:"total"`
	Query      string           `json:"query"`
	TookMS     int64            `json:"tookMs"`
}

// Search runs the hybrid retrieval pipeline: vector candidates and the
// chronicle matcher in parallel, BM25 rescoring, min-max fusion with
// recency, signal, and synapse boosts, and a keyword-only fallback when
// vector search surfaces nothing. Returned engrams are access-
// reinforced on a detached goroutine.
func (e *Engine) Search(ctx context.Context, in SearchInput) (*Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	started := e.clock()

	limit := in.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	minFinal := DefaultMinFinalScore
	if in.MinFinalScore != nil {
		minFinal = *in.MinFinalScore
	}
	expand := in.ExpandSynapses == nil || *in.ExpandSynapses
	poolSize := candidateMultiplier * limit

	var (
		candidates []store.VectorMatch
		chronicles []temporal.Match
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedding, err := e.embedder.Embed(gctx, in.Query)
		if err != nil {
			return fmt.Errorf("search: embed: %w", err)
		}
		matches, err := e.store.VectorSearch(gctx, in.OwnerID, embedding, poolSize, in.Strand)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		for _, m := range matches {
			m.Score = normalizeVectorScore(m.Score)
			if m.Score < in.MinScore {
				continue
			}
			candidates = append(candidates, m)
		}
		return nil
	})
	g.Go(func() error {
		// The matcher swallows its own failures.
		chronicles = e.temporal.Match(gctx, in.OwnerID, in.Query)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return e.keywordFallback(ctx, in, limit, chronicles, started)
	}

	vectorScores := make([]float64, len(candidates))
	contents := make([]string, len(candidates))
	for i, c := range candidates {
		vectorScores[i] = c.Score
		contents[i] = c.Engram.Content
	}
	keywordScores := e.bm25.Score(in.Query, contents)

	normVector := rank.MinMaxNormalize(vectorScores)
	normKeyword := rank.MinMaxNormalize(keywordScores)

	synapseBoosts := map[string]float64{}
	if expand {
		seeds := make([]string, 0, expansionSeeds)
		for _, c := range candidates[:min(expansionSeeds, len(candidates))] {
			seeds = append(seeds, c.Engram.ID)
		}
		boosts, err := e.assoc.Expand(ctx, in.OwnerID, seeds, assoc.DefaultMaxDepth, assoc.DefaultDecayFactor)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		synapseBoosts = boosts
	}

	now := e.clock()
	hits := make([]Hit, 0, len(candidates))
	for i, c := range candidates {
		trace := Trace{
			VectorScore:  normVector[i],
			KeywordScore: normKeyword[i],
			RecencyBoost: e.recencyBoost(now, c.Engram.LastAccessedAt),
			SignalBoost:  weightSignal * rank.Clamp(c.Engram.Signal, 0, 1),
			SynapseBoost: weightSynapse * rank.Clamp(synapseBoosts[c.Engram.ID], 0, 1),
		}
		hits = append(hits, Hit{Engram: c.Engram, FinalScore: fuse(trace), Trace: trace})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].FinalScore > hits[j].FinalScore
	})
	filtered := hits[:0]
	for _, h := range hits {
		if h.FinalScore >= minFinal {
			filtered = append(filtered, h)
		}
	}
	hits = filtered
	if len(hits) > limit {
		hits = hits[:limit]
	}

	e.reinforceAsync(ctx, in.OwnerID, hits)
	return &Result{
		Hits:       hits,
		Chronicles: chronicles,
		Total:      len(hits),
		Query:      in.Query,
		TookMS:     e.clock().Sub(started).Milliseconds(),
	}, nil
}

// keywordFallback serves queries whose vector search found nothing:
// BM25 over the owner's most recent engrams, positive scores only. The
// final-score floor is deliberately not applied here; lexical-only
// scores sit lower and the caller asked for whatever exists.
func (e *Engine) keywordFallback(ctx context.Context, in SearchInput, limit int, chronicles []temporal.Match, started time.Time) (*Result, error) {
	engrams, err := e.store.ListEngrams(ctx, in.OwnerID, candidateMultiplier*limit, 0, in.Strand)
	if err != nil {
		return nil, fmt.Errorf("search fallback: %w", err)
	}

	contents := make([]string, len(engrams))
	for i, engram := range engrams {
		contents[i] = engram.Content
	}
	scores := e.bm25.Score(in.Query, contents)

	var (
		kept       []*store.Engram
		keptScores []float64
	)
	for i, s := range scores {
		if s > 0 {
			kept = append(kept, engrams[i])
			keptScores = append(keptScores, s)
		}
	}
	normKeyword := rank.MinMaxNormalize(keptScores)

	now := e.clock()
	hits := make([]Hit, 0, len(kept))
	for i, engram := range kept {
		trace := Trace{
			KeywordScore: normKeyword[i],
			RecencyBoost: e.recencyBoost(now, engram.LastAccessedAt),
			SignalBoost:  weightSignal * rank.Clamp(engram.Signal, 0, 1),
		}
		hits = append(hits, Hit{Engram: engram, FinalScore: fuse(trace), Trace: trace})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].FinalScore > hits[j].FinalScore
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	e.reinforceAsync(ctx, in.OwnerID, hits)
	return &Result{
		Hits:       hits,
		Chronicles: chronicles,
		Total:      len(hits),
		Query:      in.Query,
		TookMS:     e.clock().Sub(started).Milliseconds(),
	}, nil
}

// reinforceAsync stamps access and reinforces the returned engrams on a
// detached goroutine. The work survives request cancellation; Close
// waits for it.
func (e *Engine) reinforceAsync(ctx context.Context, ownerID string, hits []Hit) {
	if len(hits) == 0 {
		return
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Engram.ID
	}
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dynamics.ReinforceAccess(detached, ownerID, ids)
	}()
}

// recencyBoost returns the pre-weighted recency component: exponential
// falloff with a 7-day scale and a hard 90-day cutoff.
func (e *Engine) recencyBoost(now, lastAccessed time.Time) float64 {
	if lastAccessed.IsZero() {
		return 0
	}
	days := now.Sub(lastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	return weightRecency * math.Exp(-days/recencyHalfLifeDays) * rank.Clamp(1-days/recencyCutoffDays, 0, 1)
}

// fuse combines a trace into the final score. The boosts in the trace
// are already weighted.
func fuse(t Trace) float64 {
	return weightVector*t.VectorScore +
		weightKeyword*t.KeywordScore +
		t.RecencyBoost +
		t.SignalBoost +
		t.SynapseBoost
}

// normalizeVectorScore guards the backend contract: scores must be in
// [0,1]; raw cosine leaking through is remapped, anything else clamped.
func normalizeVectorScore(s float64) float64 {
	if s < 0 {
		s = (1 + s) / 2
	}
	return rank.Clamp(s, 0, 1)
}
