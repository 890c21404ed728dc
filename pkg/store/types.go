package store

import "time"

// Strand classifies an engram by the kind of memory it holds. The strand
// determines the decay rate applied during a decay cycle.
type Strand string

const (
	StrandFactual      Strand = "factual"
	StrandExperiential Strand = "experiential"
	StrandProcedural   Strand = "procedural"
	StrandPreferential Strand = "preferential"
	StrandRelational   Strand = "relational"
	StrandGeneral      Strand = "general"
)

// Strands lists every known strand in a stable order.
var Strands = []Strand{
	StrandFactual,
	StrandExperiential,
	StrandProcedural,
	StrandPreferential,
	StrandRelational,
	StrandGeneral,
}

// Valid reports whether s is one of the known strands.
func (s Strand) Valid() bool {
	switch s {
	case StrandFactual, StrandExperiential, StrandProcedural,
		StrandPreferential, StrandRelational, StrandGeneral:
		return true
	}
	return false
}

// ParseStrand normalizes a raw string into a Strand. Empty input yields
// StrandGeneral; anything unknown reports ok=false.
func ParseStrand(raw string) (Strand, bool) {
	if raw == "" {
		return StrandGeneral, true
	}
	s := Strand(raw)
	return s, s.Valid()
}

// Engram is an atomic memory unit: one distilled fact with its embedding
// and the dynamics fields that govern how strongly it surfaces.
type Engram struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"ownerId"`
	Content     string         `json:"content"`
	ContentHash string         `json:"contentHash"`
	Strand      Strand         `json:"strand"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Embedding   []float32      `json:"-"`

	// Signal is the memory strength in [0,1]. Reinforcement raises it,
	// decay lowers it toward the configured floor.
	Signal float64 `json:"signal"`

	// PulseRate in [0,1] records how lively the memory is expected to
	// stay. It is carried for tuning and inspection.
	PulseRate float64 `json:"pulseRate"`

	AccessCount    int64     `json:"accessCount"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Clone returns a deep copy. Backends hand out clones so callers can
// mutate results freely.
func (e *Engram) Clone() *Engram {
	if e == nil {
		return nil
	}
	out := *e
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.Embedding != nil {
		out.Embedding = append([]float32(nil), e.Embedding...)
	}
	return &out
}

// Synapse is a directed weighted association between two engrams of one
// owner. Weight lives in [0,1] and saturates at 1.
type Synapse struct {
	OwnerID      string    `json:"ownerId"`
	SourceID     string    `json:"sourceId"`
	TargetID     string    `json:"targetId"`
	Weight       float64   `json:"weight"`
	FormedAt     time.Time `json:"formedAt"`
	ReinforcedAt time.Time `json:"reinforcedAt"`
}

// Clone returns a copy of the synapse.
func (s *Synapse) Clone() *Synapse {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// Chronicle is a bitemporal entity-attribute-value fact. EffectiveFrom
// and EffectiveUntil bound validity time; RecordedAt is transaction time.
// A nil EffectiveUntil marks the fact as current.
type Chronicle struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"ownerId"`
	Entity         string         `json:"entity"`
	Attribute      string         `json:"attribute"`
	Value          string         `json:"value"`
	Certainty      float64        `json:"certainty"`
	EffectiveFrom  time.Time      `json:"effectiveFrom"`
	EffectiveUntil *time.Time     `json:"effectiveUntil,omitempty"`
	RecordedAt     time.Time      `json:"recordedAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Current reports whether the chronicle is effective at t.
func (c *Chronicle) Current(t time.Time) bool {
	if c.EffectiveFrom.After(t) {
		return false
	}
	return c.EffectiveUntil == nil || c.EffectiveUntil.After(t)
}

// Clone returns a deep copy of the chronicle.
func (c *Chronicle) Clone() *Chronicle {
	if c == nil {
		return nil
	}
	out := *c
	if c.EffectiveUntil != nil {
		until := *c.EffectiveUntil
		out.EffectiveUntil = &until
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Nexus is a typed directed link between two chronicles. BondType is a
// convention, not an enum; hippocampus itself emits "superseded_by" when
// a fact supersedes another.
type Nexus struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"ownerId"`
	OriginID  string         `json:"originId"`
	LinkedID  string         `json:"linkedId"`
	BondType  string         `json:"bondType"`
	Strength  float64        `json:"strength"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the nexus.
func (n *Nexus) Clone() *Nexus {
	if n == nil {
		return nil
	}
	out := *n
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// VectorMatch pairs an engram with its similarity score. Scores are
// normalized to [0,1] by every backend, best first.
type VectorMatch struct {
	Engram *Engram `json:"engram"`
	Score  float64 `json:"score"`
}

// ChronicleQuery filters chronicle lookups. Zero values mean "no filter".
// At restricts to facts effective at that instant; From/To bound
// EffectiveFrom.
type ChronicleQuery struct {
	Entity    string
	Attribute string
	At        *time.Time
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Stats summarizes one owner's footprint in the store.
type Stats struct {
	Engrams         int64            `json:"engrams"`
	Synapses        int64            `json:"synapses"`
	Chronicles      int64            `json:"chronicles"`
	OpenChronicles  int64            `json:"openChronicles"`
	Nexuses         int64            `json:"nexuses"`
	EngramsByStrand map[Strand]int64 `json:"engramsByStrand"`
	AvgSignal       float64          `json:"avgSignal"`
}
