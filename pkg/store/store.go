package store

import (
	"context"
	"time"
)

// Store defines the persistence operations hippocampus requires from a
// backend. Every method is owner-scoped; backends must never let one
// owner observe another's rows.
type Store interface {
	// Init creates or migrates the schema. It must be called once before
	// any other operation.
	Init(ctx context.Context) error

	// Close releases the backend's resources. Operations after Close
	// return ErrStoreClosed.
	Close() error

	// HealthCheck verifies the backend is reachable and usable.
	HealthCheck(ctx context.Context) error

	// --------------------------------------------------------------------
	// Engrams
	// --------------------------------------------------------------------

	// CreateEngram inserts a new engram. Zero timestamps are stamped with
	// the store clock. Inserting a duplicate (owner, contentHash) fails
	// with ErrConflict.
	CreateEngram(ctx context.Context, e *Engram) error

	// GetEngram fetches one engram by ID.
	GetEngram(ctx context.Context, ownerID, id string) (*Engram, error)

	// UpdateEngram persists the full row, bumps Version and UpdatedAt.
	UpdateEngram(ctx context.Context, e *Engram) error

	// DeleteEngram removes an engram and its synapses.
	DeleteEngram(ctx context.Context, ownerID, id string) error

	// ListEngrams returns engrams newest-first. strand filters when
	// non-empty; limit <= 0 means no limit.
	ListEngrams(ctx context.Context, ownerID string, limit, offset int, strand Strand) ([]*Engram, error)

	// FindByContentHash fetches the engram with the exact content hash.
	FindByContentHash(ctx context.Context, ownerID, hash string) (*Engram, error)

	// VectorSearch returns the k nearest engrams by cosine similarity,
	// best first, scores normalized to [0,1]. strand filters when
	// non-empty.
	VectorSearch(ctx context.Context, ownerID string, embedding []float32, k int, strand Strand) ([]VectorMatch, error)

	// ReinforceEngram raises the signal by boost, capped at 1, bumps
	// Version and UpdatedAt, and returns the updated engram.
	ReinforceEngram(ctx context.Context, ownerID, id string, boost float64) (*Engram, error)

	// DecayEngrams multiplies signals by rate for the strand (every strand
	// when empty), flooring the result at minSignal. Engrams already at or
	// below the floor are left untouched. Returns the number of rows
	// changed.
	DecayEngrams(ctx context.Context, ownerID string, strand Strand, rate, minSignal float64) (int64, error)

	// RecordAccess bumps AccessCount and LastAccessedAt without touching
	// the signal.
	RecordAccess(ctx context.Context, ownerID, id string) error

	// --------------------------------------------------------------------
	// Synapses
	// --------------------------------------------------------------------

	// CreateSynapse inserts a synapse, or, when (owner, source, target)
	// already exists, adds s.Weight to the stored weight capped at 1 and
	// stamps ReinforcedAt.
	CreateSynapse(ctx context.Context, s *Synapse) error

	// SynapsesFrom returns the outgoing synapses of an engram.
	SynapsesFrom(ctx context.Context, ownerID, sourceID string) ([]*Synapse, error)

	// SynapsesBetween returns the synapses connecting a and b in either
	// direction.
	SynapsesBetween(ctx context.Context, ownerID, a, b string) ([]*Synapse, error)

	// ReinforceSynapse raises the weight of a directed synapse by boost,
	// capped at 1, and stamps ReinforcedAt.
	ReinforceSynapse(ctx context.Context, ownerID, sourceID, targetID string, boost float64) error

	// --------------------------------------------------------------------
	// Chronicles
	// --------------------------------------------------------------------

	// CreateChronicle inserts a chronicle row as given.
	CreateChronicle(ctx context.Context, c *Chronicle) error

	// GetChronicle fetches one chronicle by ID.
	GetChronicle(ctx context.Context, ownerID, id string) (*Chronicle, error)

	// UpdateChronicle persists the full row.
	UpdateChronicle(ctx context.Context, c *Chronicle) error

	// ExpireChronicle closes an open chronicle at the given instant and
	// returns it. Expiring an already-closed chronicle is a no-op that
	// returns the row unchanged.
	ExpireChronicle(ctx context.Context, ownerID, id string, at time.Time) (*Chronicle, error)

	// QueryChronicles returns chronicles matching q, ordered by
	// EffectiveFrom descending.
	QueryChronicles(ctx context.Context, ownerID string, q ChronicleQuery) ([]*Chronicle, error)

	// CurrentFact returns the open chronicle for (entity, attribute).
	CurrentFact(ctx context.Context, ownerID, entity, attribute string) (*Chronicle, error)

	// CurrentChronicles returns every open chronicle of the owner.
	CurrentChronicles(ctx context.Context, ownerID string) ([]*Chronicle, error)

	// Timeline returns every chronicle of an entity ordered by
	// EffectiveFrom ascending.
	Timeline(ctx context.Context, ownerID, entity string) ([]*Chronicle, error)

	// --------------------------------------------------------------------
	// Nexuses
	// --------------------------------------------------------------------

	// CreateNexus inserts a typed link between two chronicles. Both must
	// exist and belong to the owner.
	CreateNexus(ctx context.Context, n *Nexus) error

	// RelatedChronicles returns the chronicles linked to the given one by
	// any nexus, in either direction, deduplicated, the chronicle itself
	// excluded.
	RelatedChronicles(ctx context.Context, ownerID, chronicleID string) ([]*Chronicle, error)

	// --------------------------------------------------------------------
	// Stats
	// --------------------------------------------------------------------

	// Stats summarizes the owner's footprint.
	Stats(ctx context.Context, ownerID string) (*Stats, error)
}
