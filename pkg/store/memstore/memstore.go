// Package memstore provides an in-memory Store implementation. It backs
// unit tests and ephemeral runs where nothing should touch disk.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juspay/hippocampus/pkg/rank"
	"github.com/juspay/hippocampus/pkg/store"
)

type synapseKey struct {
	source string
	target string
}

// Store is a map-backed store.Store. Safe for concurrent use. The Clock
// field may be replaced before first use to make timestamps
// deterministic in tests.
type Store struct {
	mu     sync.RWMutex
	closed bool

	// dims is fixed on the first insert and enforced afterwards.
	dims int

	engrams    map[string]map[string]*store.Engram      // owner -> id
	hashes     map[string]map[string]string             // owner -> contentHash -> id
	synapses   map[string]map[synapseKey]*store.Synapse // owner -> (source, target)
	chronicles map[string]map[string]*store.Chronicle   // owner -> id
	nexuses    map[string]map[string]*store.Nexus       // owner -> id

	Clock func() time.Time
}

// New returns an empty in-memory store. Init is a no-op but kept so the
// backend is interchangeable with the SQL ones.
func New() *Store {
	return &Store{
		engrams:    make(map[string]map[string]*store.Engram),
		hashes:     make(map[string]map[string]string),
		synapses:   make(map[string]map[synapseKey]*store.Synapse),
		chronicles: make(map[string]map[string]*store.Chronicle),
		nexuses:    make(map[string]map[string]*store.Nexus),
		Clock:      func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.WrapError("healthCheck", store.ErrStoreClosed)
	}
	return nil
}

// ----------------------------------------------------------------------
// Engrams
// ----------------------------------------------------------------------

func (s *Store) CreateEngram(ctx context.Context, e *store.Engram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("createEngram", store.ErrStoreClosed)
	}
	if s.dims != 0 && len(e.Embedding) != s.dims {
		return store.WrapError("createEngram", store.ErrInvalidDimension)
	}

	owner := s.ownerEngrams(e.OwnerID)
	if _, ok := owner[e.ID]; ok {
		return store.WrapError("createEngram", store.ErrConflict)
	}
	if e.ContentHash != "" {
		if _, ok := s.hashes[e.OwnerID][e.ContentHash]; ok {
			return store.WrapError("createEngram", store.ErrConflict)
		}
	}

	now := s.Clock()
	cp := e.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	if cp.LastAccessedAt.IsZero() {
		cp.LastAccessedAt = cp.CreatedAt
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	if s.dims == 0 && len(cp.Embedding) > 0 {
		s.dims = len(cp.Embedding)
	}

	owner[cp.ID] = cp
	if cp.ContentHash != "" {
		if s.hashes[cp.OwnerID] == nil {
			s.hashes[cp.OwnerID] = make(map[string]string)
		}
		s.hashes[cp.OwnerID][cp.ContentHash] = cp.ID
	}
	return nil
}

func (s *Store) GetEngram(ctx context.Context, ownerID, id string) (*store.Engram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("getEngram", store.ErrStoreClosed)
	}
	e, ok := s.engrams[ownerID][id]
	if !ok {
		return nil, store.WrapError("getEngram", store.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) UpdateEngram(ctx context.Context, e *store.Engram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("updateEngram", store.ErrStoreClosed)
	}
	prev, ok := s.engrams[e.OwnerID][e.ID]
	if !ok {
		return store.WrapError("updateEngram", store.ErrNotFound)
	}
	if s.dims != 0 && len(e.Embedding) != s.dims {
		return store.WrapError("updateEngram", store.ErrInvalidDimension)
	}
	if e.ContentHash != prev.ContentHash {
		if holder, taken := s.hashes[e.OwnerID][e.ContentHash]; taken && holder != e.ID {
			return store.WrapError("updateEngram", store.ErrConflict)
		}
		delete(s.hashes[e.OwnerID], prev.ContentHash)
		if e.ContentHash != "" {
			if s.hashes[e.OwnerID] == nil {
				s.hashes[e.OwnerID] = make(map[string]string)
			}
			s.hashes[e.OwnerID][e.ContentHash] = e.ID
		}
	}

	cp := e.Clone()
	cp.Version = prev.Version + 1
	cp.UpdatedAt = s.Clock()
	s.engrams[e.OwnerID][e.ID] = cp
	return nil
}

func (s *Store) DeleteEngram(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("deleteEngram", store.ErrStoreClosed)
	}
	e, ok := s.engrams[ownerID][id]
	if !ok {
		return store.WrapError("deleteEngram", store.ErrNotFound)
	}
	s.removeEngramLocked(ownerID, e)
	return nil
}

func (s *Store) ListEngrams(ctx context.Context, ownerID string, limit, offset int, strand store.Strand) ([]*store.Engram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("listEngrams", store.ErrStoreClosed)
	}

	var all []*store.Engram
	for _, e := range s.engrams[ownerID] {
		if strand != "" && e.Strand != strand {
			continue
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset > 0 {
		if offset >= len(all) {
			return nil, nil
		}
		all = all[offset:]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	out := make([]*store.Engram, len(all))
	for i, e := range all {
		out[i] = e.Clone()
	}
	return out, nil
}

func (s *Store) FindByContentHash(ctx context.Context, ownerID, hash string) (*store.Engram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("findByContentHash", store.ErrStoreClosed)
	}
	id, ok := s.hashes[ownerID][hash]
	if !ok {
		return nil, store.WrapError("findByContentHash", store.ErrNotFound)
	}
	return s.engrams[ownerID][id].Clone(), nil
}

func (s *Store) VectorSearch(ctx context.Context, ownerID string, embedding []float32, k int, strand store.Strand) ([]store.VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("vectorSearch", store.ErrStoreClosed)
	}
	if len(embedding) == 0 {
		return nil, store.WrapError("vectorSearch", store.ErrInvalidVector)
	}
	if k <= 0 {
		return nil, nil
	}

	var matches []store.VectorMatch
	for _, e := range s.engrams[ownerID] {
		if strand != "" && e.Strand != strand {
			continue
		}
		score := rank.CosineToScore(rank.CosineSimilarity(embedding, e.Embedding))
		matches = append(matches, store.VectorMatch{Engram: e, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Engram.ID < matches[j].Engram.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	for i := range matches {
		matches[i].Engram = matches[i].Engram.Clone()
	}
	return matches, nil
}

func (s *Store) ReinforceEngram(ctx context.Context, ownerID, id string, boost float64) (*store.Engram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.WrapError("reinforceEngram", store.ErrStoreClosed)
	}
	e, ok := s.engrams[ownerID][id]
	if !ok {
		return nil, store.WrapError("reinforceEngram", store.ErrNotFound)
	}
	e.Signal += boost
	if e.Signal > 1 {
		e.Signal = 1
	}
	e.Version++
	e.UpdatedAt = s.Clock()
	return e.Clone(), nil
}

func (s *Store) DecayEngrams(ctx context.Context, ownerID string, strand store.Strand, rate, minSignal float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.WrapError("decayEngrams", store.ErrStoreClosed)
	}

	now := s.Clock()
	var affected int64
	for _, e := range s.engrams[ownerID] {
		if strand != "" && e.Strand != strand {
			continue
		}
		if e.Signal <= minSignal {
			continue
		}
		e.Signal *= rate
		if e.Signal < minSignal {
			e.Signal = minSignal
		}
		e.UpdatedAt = now
		affected++
	}
	return affected, nil
}

func (s *Store) RecordAccess(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("recordAccess", store.ErrStoreClosed)
	}
	e, ok := s.engrams[ownerID][id]
	if !ok {
		return store.WrapError("recordAccess", store.ErrNotFound)
	}
	e.AccessCount++
	e.LastAccessedAt = s.Clock()
	return nil
}

// removeEngramLocked deletes the engram, its hash index entry, and every
// synapse touching it. Caller holds the write lock.
func (s *Store) removeEngramLocked(ownerID string, e *store.Engram) {
	delete(s.engrams[ownerID], e.ID)
	if e.ContentHash != "" {
		delete(s.hashes[ownerID], e.ContentHash)
	}
	for key := range s.synapses[ownerID] {
		if key.source == e.ID || key.target == e.ID {
			delete(s.synapses[ownerID], key)
		}
	}
}

// ----------------------------------------------------------------------
// Synapses
// ----------------------------------------------------------------------

func (s *Store) CreateSynapse(ctx context.Context, syn *store.Synapse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("createSynapse", store.ErrStoreClosed)
	}
	if _, ok := s.engrams[syn.OwnerID][syn.SourceID]; !ok {
		return store.WrapError("createSynapse", store.ErrNotFound)
	}
	if _, ok := s.engrams[syn.OwnerID][syn.TargetID]; !ok {
		return store.WrapError("createSynapse", store.ErrNotFound)
	}

	now := s.Clock()
	key := synapseKey{source: syn.SourceID, target: syn.TargetID}
	if s.synapses[syn.OwnerID] == nil {
		s.synapses[syn.OwnerID] = make(map[synapseKey]*store.Synapse)
	}
	if existing, ok := s.synapses[syn.OwnerID][key]; ok {
		existing.Weight += syn.Weight
		if existing.Weight > 1 {
			existing.Weight = 1
		}
		existing.ReinforcedAt = now
		return nil
	}

	cp := syn.Clone()
	if cp.FormedAt.IsZero() {
		cp.FormedAt = now
	}
	if cp.ReinforcedAt.IsZero() {
		cp.ReinforcedAt = cp.FormedAt
	}
	s.synapses[syn.OwnerID][key] = cp
	return nil
}

func (s *Store) SynapsesFrom(ctx context.Context, ownerID, sourceID string) ([]*store.Synapse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("synapsesFrom", store.ErrStoreClosed)
	}
	var out []*store.Synapse
	for key, syn := range s.synapses[ownerID] {
		if key.source == sourceID {
			out = append(out, syn.Clone())
		}
	}
	sortSynapses(out)
	return out, nil
}

func (s *Store) SynapsesBetween(ctx context.Context, ownerID, a, b string) ([]*store.Synapse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("synapsesBetween", store.ErrStoreClosed)
	}
	var out []*store.Synapse
	for key, syn := range s.synapses[ownerID] {
		if (key.source == a && key.target == b) || (key.source == b && key.target == a) {
			out = append(out, syn.Clone())
		}
	}
	sortSynapses(out)
	return out, nil
}

func (s *Store) ReinforceSynapse(ctx context.Context, ownerID, sourceID, targetID string, boost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("reinforceSynapse", store.ErrStoreClosed)
	}
	syn, ok := s.synapses[ownerID][synapseKey{source: sourceID, target: targetID}]
	if !ok {
		return store.WrapError("reinforceSynapse", store.ErrNotFound)
	}
	syn.Weight += boost
	if syn.Weight > 1 {
		syn.Weight = 1
	}
	syn.ReinforcedAt = s.Clock()
	return nil
}

func sortSynapses(syns []*store.Synapse) {
	sort.Slice(syns, func(i, j int) bool {
		if syns[i].Weight != syns[j].Weight {
			return syns[i].Weight > syns[j].Weight
		}
		if syns[i].SourceID != syns[j].SourceID {
			return syns[i].SourceID < syns[j].SourceID
		}
		return syns[i].TargetID < syns[j].TargetID
	})
}

// ----------------------------------------------------------------------
// Chronicles
// ----------------------------------------------------------------------

func (s *Store) CreateChronicle(ctx context.Context, c *store.Chronicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("createChronicle", store.ErrStoreClosed)
	}
	owner := s.ownerChronicles(c.OwnerID)
	if _, ok := owner[c.ID]; ok {
		return store.WrapError("createChronicle", store.ErrConflict)
	}

	now := s.Clock()
	cp := c.Clone()
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = now
	}
	if cp.EffectiveFrom.IsZero() {
		cp.EffectiveFrom = now
	}
	owner[cp.ID] = cp
	return nil
}

func (s *Store) GetChronicle(ctx context.Context, ownerID, id string) (*store.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("getChronicle", store.ErrStoreClosed)
	}
	c, ok := s.chronicles[ownerID][id]
	if !ok {
		return nil, store.WrapError("getChronicle", store.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *Store) UpdateChronicle(ctx context.Context, c *store.Chronicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("updateChronicle", store.ErrStoreClosed)
	}
	if _, ok := s.chronicles[c.OwnerID][c.ID]; !ok {
		return store.WrapError("updateChronicle", store.ErrNotFound)
	}
	s.chronicles[c.OwnerID][c.ID] = c.Clone()
	return nil
}

func (s *Store) ExpireChronicle(ctx context.Context, ownerID, id string, at time.Time) (*store.Chronicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.WrapError("expireChronicle", store.ErrStoreClosed)
	}
	c, ok := s.chronicles[ownerID][id]
	if !ok {
		return nil, store.WrapError("expireChronicle", store.ErrNotFound)
	}
	if c.EffectiveUntil == nil {
		until := at
		c.EffectiveUntil = &until
	}
	return c.Clone(), nil
}

func (s *Store) QueryChronicles(ctx context.Context, ownerID string, q store.ChronicleQuery) ([]*store.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("queryChronicles", store.ErrStoreClosed)
	}

	var out []*store.Chronicle
	for _, c := range s.chronicles[ownerID] {
		if q.Entity != "" && c.Entity != q.Entity {
			continue
		}
		if q.Attribute != "" && c.Attribute != q.Attribute {
			continue
		}
		if q.At != nil && !c.Current(*q.At) {
			continue
		}
		if q.From != nil && c.EffectiveFrom.Before(*q.From) {
			continue
		}
		if q.To != nil && c.EffectiveFrom.After(*q.To) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom.Equal(out[j].EffectiveFrom) {
			return out[i].EffectiveFrom.After(out[j].EffectiveFrom)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) CurrentFact(ctx context.Context, ownerID, entity, attribute string) (*store.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("currentFact", store.ErrStoreClosed)
	}

	now := s.Clock()
	var best *store.Chronicle
	for _, c := range s.chronicles[ownerID] {
		if c.Entity != entity || c.Attribute != attribute || !c.Current(now) {
			continue
		}
		if best == nil || c.EffectiveFrom.After(best.EffectiveFrom) {
			best = c
		}
	}
	if best == nil {
		return nil, store.WrapError("currentFact", store.ErrNotFound)
	}
	return best.Clone(), nil
}

func (s *Store) CurrentChronicles(ctx context.Context, ownerID string) ([]*store.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("currentChronicles", store.ErrStoreClosed)
	}

	now := s.Clock()
	var out []*store.Chronicle
	for _, c := range s.chronicles[ownerID] {
		if c.Current(now) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		if out[i].Attribute != out[j].Attribute {
			return out[i].Attribute < out[j].Attribute
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Timeline(ctx context.Context, ownerID, entity string) ([]*store.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("timeline", store.ErrStoreClosed)
	}

	var out []*store.Chronicle
	for _, c := range s.chronicles[ownerID] {
		if c.Entity == entity {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom.Equal(out[j].EffectiveFrom) {
			return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ----------------------------------------------------------------------
// Nexuses
// ----------------------------------------------------------------------

func (s *Store) CreateNexus(ctx context.Context, n *store.Nexus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("createNexus", store.ErrStoreClosed)
	}
	if _, ok := s.chronicles[n.OwnerID][n.OriginID]; !ok {
		return store.WrapError("createNexus", store.ErrNotFound)
	}
	if _, ok := s.chronicles[n.OwnerID][n.LinkedID]; !ok {
		return store.WrapError("createNexus", store.ErrNotFound)
	}
	if s.nexuses[n.OwnerID] == nil {
		s.nexuses[n.OwnerID] = make(map[string]*store.Nexus)
	}
	if _, ok := s.nexuses[n.OwnerID][n.ID]; ok {
		return store.WrapError("createNexus", store.ErrConflict)
	}

	cp := n.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.Clock()
	}
	s.nexuses[n.OwnerID][cp.ID] = cp
	return nil
}

func (s *Store) RelatedChronicles(ctx context.Context, ownerID, chronicleID string) ([]*store.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("relatedChronicles", store.ErrStoreClosed)
	}
	if _, ok := s.chronicles[ownerID][chronicleID]; !ok {
		return nil, store.WrapError("relatedChronicles", store.ErrNotFound)
	}

	seen := make(map[string]bool)
	var out []*store.Chronicle
	for _, n := range s.nexuses[ownerID] {
		var other string
		switch chronicleID {
		case n.OriginID:
			other = n.LinkedID
		case n.LinkedID:
			other = n.OriginID
		default:
			continue
		}
		if other == chronicleID || seen[other] {
			continue
		}
		seen[other] = true
		if c, ok := s.chronicles[ownerID][other]; ok {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom.Equal(out[j].EffectiveFrom) {
			return out[i].EffectiveFrom.After(out[j].EffectiveFrom)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ----------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------

func (s *Store) Stats(ctx context.Context, ownerID string) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.WrapError("stats", store.ErrStoreClosed)
	}

	stats := &store.Stats{
		EngramsByStrand: make(map[store.Strand]int64),
	}
	var signalSum float64
	for _, e := range s.engrams[ownerID] {
		stats.Engrams++
		stats.EngramsByStrand[e.Strand]++
		signalSum += e.Signal
	}
	if stats.Engrams > 0 {
		stats.AvgSignal = signalSum / float64(stats.Engrams)
	}
	stats.Synapses = int64(len(s.synapses[ownerID]))
	for _, c := range s.chronicles[ownerID] {
		stats.Chronicles++
		if c.EffectiveUntil == nil {
			stats.OpenChronicles++
		}
	}
	stats.Nexuses = int64(len(s.nexuses[ownerID]))
	return stats, nil
}

func (s *Store) ownerEngrams(ownerID string) map[string]*store.Engram {
	if s.engrams[ownerID] == nil {
		s.engrams[ownerID] = make(map[string]*store.Engram)
	}
	return s.engrams[ownerID]
}

func (s *Store) ownerChronicles(ownerID string) map[string]*store.Chronicle {
	if s.chronicles[ownerID] == nil {
		s.chronicles[ownerID] = make(map[string]*store.Chronicle)
	}
	return s.chronicles[ownerID]
}
