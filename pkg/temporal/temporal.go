// Package temporal manages chronicles: bitemporal entity-attribute-value
// facts with automatic supersession, point-in-time queries, timelines,
// and typed nexus links between facts.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/store"
)

// DefaultCertainty is assumed when a recorded fact carries none.
const DefaultCertainty = 1.0

// BondSupersededBy is the nexus type linking an expired fact to the fact
// that replaced it.
const BondSupersededBy = "superseded_by"

// Service runs chronicle operations against a store.
type Service struct {
	store  store.Store
	logger *zap.Logger
	clock  func() time.Time
}

// Option tunes a Service.
type Option func(*Service)

// WithClock replaces the service clock, making supersession timestamps
// deterministic in tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.clock = fn }
}

// New builds a chronicle service. A nil logger is replaced with a no-op
// one.
func New(st store.Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  st,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordInput describes one fact to record.
type RecordInput struct {
	Entity    string         `json:"entity"`
	Attribute string         `json:"attribute"`
	Value     string         `json:"value"`
	Certainty *float64       `json:"certainty,omitempty"`
	// EffectiveFrom backdates the fact. When set, the fact is inserted
	// as-is and no supersession happens.
	EffectiveFrom *time.Time     `json:"effectiveFrom,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (in RecordInput) validate() error {
	if in.Entity == "" {
		return fmt.Errorf("%w: entity is required", store.ErrInvalidInput)
	}
	if in.Attribute == "" {
		return fmt.Errorf("%w: attribute is required", store.ErrInvalidInput)
	}
	if in.Value == "" {
		return fmt.Errorf("%w: value is required", store.ErrInvalidInput)
	}
	if in.Certainty != nil && (*in.Certainty < 0 || *in.Certainty > 1) {
		return fmt.Errorf("%w: certainty must be in [0,1]", store.ErrInvalidInput)
	}
	return nil
}

// RecordFact stores a fact. Without an explicit EffectiveFrom, any
// current fact for (entity, attribute) is closed at now and linked to
// the new one with a superseded_by nexus, keeping exactly one open fact
// per tuple. The nexus is best-effort: a link failure is logged, not
// surfaced.
func (s *Service) RecordFact(ctx context.Context, ownerID string, in RecordInput) (*store.Chronicle, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.clock()
	certainty := DefaultCertainty
	if in.Certainty != nil {
		certainty = *in.Certainty
	}

	chronicle := &store.Chronicle{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		Entity:        in.Entity,
		Attribute:     in.Attribute,
		Value:         in.Value,
		Certainty:     certainty,
		EffectiveFrom: now,
		RecordedAt:    now,
		Metadata:      in.Metadata,
	}

	if in.EffectiveFrom != nil {
		chronicle.EffectiveFrom = *in.EffectiveFrom
		if err := s.store.CreateChronicle(ctx, chronicle); err != nil {
			return nil, fmt.Errorf("record fact: %w", err)
		}
		return chronicle, nil
	}

	prev, err := s.store.CurrentFact(ctx, ownerID, in.Entity, in.Attribute)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("record fact: %w", err)
	}
	if prev != nil {
		if _, err := s.store.ExpireChronicle(ctx, ownerID, prev.ID, now); err != nil {
			return nil, fmt.Errorf("record fact: supersede %s: %w", prev.ID, err)
		}
	}

	if err := s.store.CreateChronicle(ctx, chronicle); err != nil {
		return nil, fmt.Errorf("record fact: %w", err)
	}

	if prev != nil {
		nexus := &store.Nexus{
			ID:       uuid.New().String(),
			OwnerID:  ownerID,
			OriginID: prev.ID,
			LinkedID: chronicle.ID,
			BondType: BondSupersededBy,
			Strength: 1,
		}
		if err := s.store.CreateNexus(ctx, nexus); err != nil {
			s.logger.Warn("supersession nexus failed",
				zap.String("owner_id", ownerID),
				zap.String("origin_id", prev.ID),
				zap.String("linked_id", chronicle.ID),
				zap.Error(err))
		}
	}
	return chronicle, nil
}

// Get fetches one chronicle.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*store.Chronicle, error) {
	return s.store.GetChronicle(ctx, ownerID, id)
}

// Query returns chronicles matching q, newest EffectiveFrom first.
func (s *Service) Query(ctx context.Context, ownerID string, q store.ChronicleQuery) ([]*store.Chronicle, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	return s.store.QueryChronicles(ctx, ownerID, q)
}

// CurrentFact returns the open fact for (entity, attribute).
func (s *Service) CurrentFact(ctx context.Context, ownerID, entity, attribute string) (*store.Chronicle, error) {
	if entity == "" || attribute == "" {
		return nil, fmt.Errorf("%w: entity and attribute are required", store.ErrInvalidInput)
	}
	return s.store.CurrentFact(ctx, ownerID, entity, attribute)
}

// CurrentChronicles returns every open fact of the owner.
func (s *Service) CurrentChronicles(ctx context.Context, ownerID string) ([]*store.Chronicle, error) {
	return s.store.CurrentChronicles(ctx, ownerID)
}

// Timeline returns every version of every attribute of an entity,
// oldest first.
func (s *Service) Timeline(ctx context.Context, ownerID, entity string) ([]*store.Chronicle, error) {
	if entity == "" {
		return nil, fmt.Errorf("%w: entity is required", store.ErrInvalidInput)
	}
	return s.store.Timeline(ctx, ownerID, entity)
}

// UpdateInput patches a chronicle. Nil fields are left alone.
type UpdateInput struct {
	Value     *string        `json:"value,omitempty"`
	Certainty *float64       `json:"certainty,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Update patches value, certainty, or metadata of a chronicle. The
// validity interval is untouched; use Expire to close a fact.
func (s *Service) Update(ctx context.Context, ownerID, id string, in UpdateInput) (*store.Chronicle, error) {
	if in.Certainty != nil && (*in.Certainty < 0 || *in.Certainty > 1) {
		return nil, fmt.Errorf("%w: certainty must be in [0,1]", store.ErrInvalidInput)
	}
	chronicle, err := s.store.GetChronicle(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if in.Value != nil {
		chronicle.Value = *in.Value
	}
	if in.Certainty != nil {
		chronicle.Certainty = *in.Certainty
	}
	if in.Metadata != nil {
		chronicle.Metadata = in.Metadata
	}
	if err := s.store.UpdateChronicle(ctx, chronicle); err != nil {
		return nil, fmt.Errorf("update chronicle: %w", err)
	}
	return chronicle, nil
}

// Expire soft-deletes a chronicle: its EffectiveUntil is set to now if
// and only if it is still open. Expiring a closed chronicle returns it
// unchanged.
func (s *Service) Expire(ctx context.Context, ownerID, id string) (*store.Chronicle, error) {
	return s.store.ExpireChronicle(ctx, ownerID, id, s.clock())
}

// LinkInput describes a nexus to create.
type LinkInput struct {
	OriginID string         `json:"originId"`
	LinkedID string         `json:"linkedId"`
	BondType string         `json:"bondType"`
	Strength *float64       `json:"strength,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Link creates a typed directed nexus between two chronicles of the
// owner.
func (s *Service) Link(ctx context.Context, ownerID string, in LinkInput) (*store.Nexus, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: ownerId is required", store.ErrInvalidInput)
	}
	if in.OriginID == "" || in.LinkedID == "" {
		return nil, fmt.Errorf("%w: originId and linkedId are required", store.ErrInvalidInput)
	}
	if in.BondType == "" {
		return nil, fmt.Errorf("%w: bondType is required", store.ErrInvalidInput)
	}
	strength := 1.0
	if in.Strength != nil {
		if *in.Strength < 0 || *in.Strength > 1 {
			return nil, fmt.Errorf("%w: strength must be in [0,1]", store.ErrInvalidInput)
		}
		strength = *in.Strength
	}

	nexus := &store.Nexus{
		ID:       uuid.New().String(),
		OwnerID:  ownerID,
		OriginID: in.OriginID,
		LinkedID: in.LinkedID,
		BondType: in.BondType,
		Strength: strength,
		Metadata: in.Metadata,
	}
	if err := s.store.CreateNexus(ctx, nexus); err != nil {
		return nil, fmt.Errorf("link chronicles: %w", err)
	}
	return nexus, nil
}

// Related returns the chronicles connected to the given one by any
// nexus, in either direction, deduplicated, the chronicle itself
// excluded.
func (s *Service) Related(ctx context.Context, ownerID, chronicleID string) ([]*store.Chronicle, error) {
	return s.store.RelatedChronicles(ctx, ownerID, chronicleID)
}
