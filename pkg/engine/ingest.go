package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/temporal"
)

// AddInput is one ingestion request.
type AddInput struct {
	OwnerID string `json:"ownerId"`
	Content string `json:"content"`

	// Strand overrides the extractor's classification for every fact of
	// this input when set.
	Strand    store.Strand   `json:"strand,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Signal    *float64       `json:"signal,omitempty"`
	PulseRate *float64       `json:"pulseRate,omitempty"`
}

func (in AddInput) validate() error {
	if in.OwnerID == "" {
		return fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	if trimmed(in.Content) == "" {
		return fmt.Errorf("%w: content must not be blank", store.ErrInvalidInput)
	}
	if in.Strand != "" && !in.Strand.Valid() {
		return fmt.Errorf("%w: unknown strand %q", store.ErrInvalidInput, in.Strand)
	}
	if err := validateUnit("signal", in.Signal); err != nil {
		return err
	}
	return validateUnit("pulseRate", in.PulseRate)
}

// AddMemory ingests raw text: extract facts, embed and dedup each one
// sequentially, associate everything the input produced, and record the
// temporal facts as chronicles. Returns the stored or reinforced
// engrams in fact order. Facts are processed in order on purpose: a
// fact must be able to dedup against its own batch.
func (e *Engine) AddMemory(ctx context.Context, in AddInput) ([]*store.Engram, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	extraction := e.extractor.Extract(ctx, trimmed(in.Content))
	if len(extraction.Facts) == 0 && len(extraction.TemporalFacts) == 0 {
		return nil, nil
	}
	strand := extraction.Strand
	if in.Strand != "" {
		strand = in.Strand
	}

	var (
		engrams []*store.Engram
		seen    = make(map[string]int)
	)
	for _, fact := range extraction.Facts {
		engram, err := e.ingestFact(ctx, in, fact, strand)
		if err != nil {
			return nil, err
		}
		// An engram keeps its first position in the result but the
		// freshest state wins, so in-batch dedup reflects reinforcement.
		if pos, ok := seen[engram.ID]; ok {
			engrams[pos] = engram
			continue
		}
		seen[engram.ID] = len(engrams)
		engrams = append(engrams, engram)
	}

	if len(engrams) > 1 {
		ids := make([]string, len(engrams))
		for i, engram := range engrams {
			ids[i] = engram.ID
		}
		if err := e.assoc.Associate(ctx, in.OwnerID, ids); err != nil {
			return nil, fmt.Errorf("add memory: %w", err)
		}
	}

	// Chronicle failures never fail the ingestion: the engrams above are
	// already durable.
	for _, tf := range extraction.TemporalFacts {
		_, err := e.temporal.RecordFact(ctx, in.OwnerID, temporal.RecordInput{
			Entity:    tf.Entity,
			Attribute: tf.Attribute,
			Value:     tf.Value,
		})
		if err != nil {
			e.logger.Warn("chronicle recording failed",
				zap.String("owner_id", in.OwnerID),
				zap.String("entity", tf.Entity),
				zap.String("attribute", tf.Attribute),
				zap.Error(err))
		}
	}
	return engrams, nil
}

// ingestFact embeds one fact and either reinforces its duplicate or
// stores it as a new engram.
func (e *Engine) ingestFact(ctx context.Context, in AddInput, fact string, strand store.Strand) (*store.Engram, error) {
	embedding, err := e.embedder.Embed(ctx, fact)
	if err != nil {
		return nil, fmt.Errorf("add memory: embed: %w", err)
	}

	hash := contentHash(fact)
	dup, err := e.findDuplicate(ctx, in.OwnerID, hash, embedding)
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	if dup != nil {
		reinforced, err := e.dynamics.Reinforce(ctx, in.OwnerID, dup.engram.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("add memory: %w", err)
		}
		e.logger.Debug("duplicate reinforced",
			zap.String("owner_id", in.OwnerID),
			zap.String("engram_id", dup.engram.ID),
			zap.Float64("similarity", dup.similarity))
		return reinforced, nil
	}

	now := e.clock()
	engram := &store.Engram{
		ID:             uuid.New().String(),
		OwnerID:        in.OwnerID,
		Content:        fact,
		ContentHash:    hash,
		Strand:         strand,
		Tags:           in.Tags,
		Metadata:       in.Metadata,
		Embedding:      embedding,
		Signal:         DefaultSignal,
		PulseRate:      DefaultPulseRate,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	if in.Signal != nil {
		engram.Signal = *in.Signal
	}
	if in.PulseRate != nil {
		engram.PulseRate = *in.PulseRate
	}

	err = e.store.CreateEngram(ctx, engram)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent ingestion of the same content won the insert race.
		// Treat ours as the duplicate it now is.
		existing, lookupErr := e.store.FindByContentHash(ctx, in.OwnerID, hash)
		if lookupErr != nil {
			return nil, fmt.Errorf("add memory: %w", err)
		}
		return e.dynamics.Reinforce(ctx, in.OwnerID, existing.ID, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	return engram, nil
}
