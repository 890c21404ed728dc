package postgres

import (
	"context"

	"github.com/juspay/hippocampus/pkg/store"
)

const synapseColumns = `owner_id, source_id, target_id, weight, formed_at, reinforced_at`

func (s *Store) CreateSynapse(ctx context.Context, syn *store.Synapse) error {
	if err := s.guard("createSynapse"); err != nil {
		return err
	}

	now := s.clock()
	formed := syn.FormedAt
	if formed.IsZero() {
		formed = now
	}
	reinforced := syn.ReinforcedAt
	if reinforced.IsZero() {
		reinforced = formed
	}

	// Re-associating an existing pair accumulates weight up to the cap.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO synapses (`+synapseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id, source_id, target_id) DO UPDATE SET
			weight = LEAST(1.0, synapses.weight + EXCLUDED.weight),
			reinforced_at = $7`,
		syn.OwnerID, syn.SourceID, syn.TargetID, syn.Weight,
		toMS(formed), toMS(reinforced), toMS(now))
	if err != nil {
		return mapConstraint("createSynapse", err)
	}
	return nil
}

func (s *Store) SynapsesFrom(ctx context.Context, ownerID, sourceID string) ([]*store.Synapse, error) {
	return s.querySynapses(ctx, "synapsesFrom", `
		SELECT `+synapseColumns+` FROM synapses
		WHERE owner_id = $1 AND source_id = $2
		ORDER BY weight DESC, source_id ASC, target_id ASC`,
		ownerID, sourceID)
}

func (s *Store) SynapsesBetween(ctx context.Context, ownerID, a, b string) ([]*store.Synapse, error) {
	return s.querySynapses(ctx, "synapsesBetween", `
		SELECT `+synapseColumns+` FROM synapses
		WHERE owner_id = $1
		  AND ((source_id = $2 AND target_id = $3) OR (source_id = $3 AND target_id = $2))
		ORDER BY weight DESC, source_id ASC, target_id ASC`,
		ownerID, a, b)
}

func (s *Store) ReinforceSynapse(ctx context.Context, ownerID, sourceID, targetID string, boost float64) error {
	if err := s.guard("reinforceSynapse"); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE synapses SET weight = LEAST(1.0, weight + $1), reinforced_at = $2
		WHERE owner_id = $3 AND source_id = $4 AND target_id = $5`,
		boost, toMS(s.clock()), ownerID, sourceID, targetID)
	if err != nil {
		return store.WrapError("reinforceSynapse", err)
	}
	return requireAffected("reinforceSynapse", tag)
}

func (s *Store) querySynapses(ctx context.Context, op, query string, args ...any) ([]*store.Synapse, error) {
	if err := s.guard(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError(op, err)
	}
	defer rows.Close()

	var out []*store.Synapse
	for rows.Next() {
		var (
			syn                store.Synapse
			formed, reinforced int64
		)
		err := rows.Scan(&syn.OwnerID, &syn.SourceID, &syn.TargetID, &syn.Weight,
			&formed, &reinforced)
		if err != nil {
			return nil, store.WrapError(op, err)
		}
		syn.FormedAt = fromMS(formed)
		syn.ReinforcedAt = fromMS(reinforced)
		out = append(out, &syn)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError(op, err)
	}
	return out, nil
}
