package sqlite

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO synapses (`+synapseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, source_id, target_id) DO UPDATE SET
			weight = MIN(1.0, weight + excluded.weight),
			reinforced_at = ?`,
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
		WHERE owner_id = ? AND source_id = ?
		ORDER BY weight DESC, source_id ASC, target_id ASC`,
		ownerID, sourceID)
}

func (s *Store) SynapsesBetween(ctx context.Context, ownerID, a, b string) ([]*store.Synapse, error) {
	return s.querySynapses(ctx, "synapsesBetween", `
		SELECT `+synapseColumns+` FROM synapses
		WHERE owner_id = ?
		  AND ((source_id = ? AND target_id = ?) OR (source_id = ? AND target_id = ?))
		ORDER BY weight DESC, source_id ASC, target_id ASC`,
		ownerID, a, b, b, a)
}

func (s *Store) ReinforceSynapse(ctx context.Context, ownerID, sourceID, targetID string, boost float64) error {
	if err := s.guard("reinforceSynapse"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE synapses SET weight = MIN(1.0, weight + ?), reinforced_at = ?
		WHERE owner_id = ? AND source_id = ? AND target_id = ?`,
		boost, toMS(s.clock()), ownerID, sourceID, targetID)
	if err != nil {
		return store.WrapError("reinforceSynapse", err)
	}
	return requireAffected("reinforceSynapse", res)
}

func (s *Store) querySynapses(ctx context.Context, op, query string, args ...any) ([]*store.Synapse, error) {
	if err := s.guard(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError(op, err)
	}
	defer func() { _ = rows.Close() }()

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
