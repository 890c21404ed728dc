// Package engine orchestrates the memory lifecycle: ingestion of raw
// text into deduplicated, embedded, associated engrams, and hybrid
// retrieval fusing vector similarity, BM25, recency, signal strength,
// and synapse expansion.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/assoc"
	"github.com/juspay/hippocampus/pkg/extract"
	"github.com/juspay/hippocampus/pkg/provider"
	"github.com/juspay/hippocampus/pkg/rank"
	"github.com/juspay/hippocampus/pkg/signal"
	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/temporal"
)

// Ingestion defaults.
const (
	DefaultSignal    = 0.5
	DefaultPulseRate = 0.1
)

// Engine is the memory engine: one instance serves all owners over one
// store. Safe for concurrent use.
type Engine struct {
	store     store.Store
	embedder  provider.Embedder
	extractor *extract.Extractor
	dynamics  *signal.Dynamics
	assoc     *assoc.Engine
	temporal  *temporal.Service
	logger    *zap.Logger
	clock     func() time.Time
	bm25      rank.BM25

	// wg tracks detached post-retrieval reinforcement; Close waits for
	// it so shutdown never abandons half-recorded accesses.
	wg sync.WaitGroup
}

// Option tunes an Engine.
type Option func(*Engine)

// WithClock replaces the engine clock. Recency boosts and engram
// timestamps follow it.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.clock = fn }
}

// New wires an engine over its collaborators. Completer may be nil, in
// which case ingestion stores raw input without extraction. A nil
// logger is replaced with a no-op one.
func New(st store.Store, embedder provider.Embedder, completer provider.Completer, dyn *signal.Dynamics, tmp *temporal.Service, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     st,
		embedder:  embedder,
		extractor: extract.New(completer, logger.Named("extract")),
		dynamics:  dyn,
		assoc:     assoc.New(st, logger.Named("assoc")),
		temporal:  tmp,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
		bm25:      rank.NewBM25(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close waits for detached reinforcement work. The store is owned by
// the caller and is not closed here.
func (e *Engine) Close() {
	e.wg.Wait()
}

// Get fetches one engram.
func (e *Engine) Get(ctx context.Context, ownerID, id string) (*store.Engram, error) {
	if err := requireOwnerAndID(ownerID, id); err != nil {
		return nil, err
	}
	return e.store.GetEngram(ctx, ownerID, id)
}

// List returns the owner's engrams newest-first.
func (e *Engine) List(ctx context.Context, ownerID string, limit, offset int, strand store.Strand) ([]*store.Engram, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	if strand != "" && !strand.Valid() {
		return nil, fmt.Errorf("%w: unknown strand %q", store.ErrInvalidInput, strand)
	}
	return e.store.ListEngrams(ctx, ownerID, limit, offset, strand)
}

// UpdateInput patches an engram. Nil fields are left alone.
type UpdateInput struct {
	Content   *string        `json:"content,omitempty"`
	Strand    *store.Strand  `json:"strand,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Signal    *float64       `json:"signal,omitempty"`
	PulseRate *float64       `json:"pulseRate,omitempty"`
}

// Update patches an engram. Changing the content re-embeds and
// re-hashes it, so dedup keeps working against the new text.
func (e *Engine) Update(ctx context.Context, ownerID, id string, in UpdateInput) (*store.Engram, error) {
	if err := requireOwnerAndID(ownerID, id); err != nil {
		return nil, err
	}
	if in.Strand != nil && !in.Strand.Valid() {
		return nil, fmt.Errorf("%w: unknown strand %q", store.ErrInvalidInput, *in.Strand)
	}
	if err := validateUnit("signal", in.Signal); err != nil {
		return nil, err
	}
	if err := validateUnit("pulseRate", in.PulseRate); err != nil {
		return nil, err
	}

	engram, err := e.store.GetEngram(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if in.Content != nil && *in.Content != engram.Content {
		content := trimmed(*in.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: content must not be blank", store.ErrInvalidInput)
		}
		embedding, err := e.embedder.Embed(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("update %s: embed: %w", id, err)
		}
		engram.Content = content
		engram.ContentHash = contentHash(content)
		engram.Embedding = embedding
	}
	if in.Strand != nil {
		engram.Strand = *in.Strand
	}
	if in.Tags != nil {
		engram.Tags = in.Tags
	}
	if in.Metadata != nil {
		engram.Metadata = in.Metadata
	}
	if in.Signal != nil {
		engram.Signal = *in.Signal
	}
	if in.PulseRate != nil {
		engram.PulseRate = *in.PulseRate
	}

	if err := e.store.UpdateEngram(ctx, engram); err != nil {
		return nil, err
	}
	return e.store.GetEngram(ctx, ownerID, id)
}

// Delete removes an engram and, through the store, its synapses.
func (e *Engine) Delete(ctx context.Context, ownerID, id string) error {
	if err := requireOwnerAndID(ownerID, id); err != nil {
		return err
	}
	return e.store.DeleteEngram(ctx, ownerID, id)
}

// Reinforce raises an engram's signal; boost <= 0 applies the default.
func (e *Engine) Reinforce(ctx context.Context, ownerID, id string, boost float64) (*store.Engram, error) {
	if err := requireOwnerAndID(ownerID, id); err != nil {
		return nil, err
	}
	if boost > 1 {
		return nil, fmt.Errorf("%w: boost must be in (0,1]", store.ErrInvalidInput)
	}
	return e.dynamics.Reinforce(ctx, ownerID, id, boost)
}

// RunDecay runs one decay cycle for the owner.
func (e *Engine) RunDecay(ctx context.Context, ownerID string) (*signal.DecayReport, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	return e.dynamics.Decay(ctx, ownerID)
}

// Stats summarizes the owner's footprint.
func (e *Engine) Stats(ctx context.Context, ownerID string) (*store.Stats, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	return e.store.Stats(ctx, ownerID)
}

func requireOwnerAndID(ownerID, id string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", store.ErrInvalidInput)
	}
	return nil
}

func validateUnit(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%w: %s must be in [0,1]", store.ErrInvalidInput, name)
	}
	return nil
}
