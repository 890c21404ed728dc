package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/juspay/hippocampus/pkg/store"
)

const chronicleColumns = `id, owner_id, entity, attribute, value, certainty,
	effective_from, effective_until, recorded_at, metadata`

func (s *Store) CreateChronicle(ctx context.Context, c *store.Chronicle) error {
	if err := s.guard("createChronicle"); err != nil {
		return err
	}

	now := s.clock()
	cp := c.Clone()
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = now
	}
	if cp.EffectiveFrom.IsZero() {
		cp.EffectiveFrom = now
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chronicles (`+chronicleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cp.ID, cp.OwnerID, cp.Entity, cp.Attribute, cp.Value, cp.Certainty,
		toMS(cp.EffectiveFrom), nullableMS(cp.EffectiveUntil), toMS(cp.RecordedAt), cp.Metadata)
	if err != nil {
		return mapConstraint("createChronicle", err)
	}
	return nil
}

func (s *Store) GetChronicle(ctx context.Context, ownerID, id string) (*store.Chronicle, error) {
	if err := s.guard("getChronicle"); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+chronicleColumns+` FROM chronicles WHERE owner_id = $1 AND id = $2`,
		ownerID, id)
	c, err := scanChronicle(row)
	if err != nil {
		return nil, wrapScan("getChronicle", err)
	}
	return c, nil
}

func (s *Store) UpdateChronicle(ctx context.Context, c *store.Chronicle) error {
	if err := s.guard("updateChronicle"); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE chronicles SET
			entity = $1, attribute = $2, value = $3, certainty = $4,
			effective_from = $5, effective_until = $6, recorded_at = $7, metadata = $8
		WHERE owner_id = $9 AND id = $10`,
		c.Entity, c.Attribute, c.Value, c.Certainty,
		toMS(c.EffectiveFrom), nullableMS(c.EffectiveUntil), toMS(c.RecordedAt), c.Metadata,
		c.OwnerID, c.ID)
	if err != nil {
		return store.WrapError("updateChronicle", err)
	}
	return requireAffected("updateChronicle", tag)
}

func (s *Store) ExpireChronicle(ctx context.Context, ownerID, id string, at time.Time) (*store.Chronicle, error) {
	if err := s.guard("expireChronicle"); err != nil {
		return nil, err
	}
	// Only open chronicles close; expiring twice is a no-op.
	_, err := s.pool.Exec(ctx, `
		UPDATE chronicles SET effective_until = $1
		WHERE owner_id = $2 AND id = $3 AND effective_until IS NULL`,
		toMS(at), ownerID, id)
	if err != nil {
		return nil, store.WrapError("expireChronicle", err)
	}
	return s.GetChronicle(ctx, ownerID, id)
}

func (s *Store) QueryChronicles(ctx context.Context, ownerID string, q store.ChronicleQuery) ([]*store.Chronicle, error) {
	if err := s.guard("queryChronicles"); err != nil {
		return nil, err
	}

	query := `SELECT ` + chronicleColumns + ` FROM chronicles WHERE owner_id = $1`
	args := []any{ownerID}
	if q.Entity != "" {
		args = append(args, q.Entity)
		query += fmt.Sprintf(` AND entity = $%d`, len(args))
	}
	if q.Attribute != "" {
		args = append(args, q.Attribute)
		query += fmt.Sprintf(` AND attribute = $%d`, len(args))
	}
	if q.At != nil {
		args = append(args, toMS(*q.At))
		query += fmt.Sprintf(` AND effective_from <= $%d AND (effective_until IS NULL OR effective_until > $%d)`, len(args), len(args))
	}
	if q.From != nil {
		args = append(args, toMS(*q.From))
		query += fmt.Sprintf(` AND effective_from >= $%d`, len(args))
	}
	if q.To != nil {
		args = append(args, toMS(*q.To))
		query += fmt.Sprintf(` AND effective_from <= $%d`, len(args))
	}
	query += ` ORDER BY effective_from DESC, id ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryChronicles(ctx, "queryChronicles", query, args...)
}

func (s *Store) CurrentFact(ctx context.Context, ownerID, entity, attribute string) (*store.Chronicle, error) {
	if err := s.guard("currentFact"); err != nil {
		return nil, err
	}
	now := toMS(s.clock())
	row := s.pool.QueryRow(ctx, `
		SELECT `+chronicleColumns+` FROM chronicles
		WHERE owner_id = $1 AND entity = $2 AND attribute = $3
		  AND effective_from <= $4 AND (effective_until IS NULL OR effective_until > $4)
		ORDER BY effective_from DESC LIMIT 1`,
		ownerID, entity, attribute, now)
	c, err := scanChronicle(row)
	if err != nil {
		return nil, wrapScan("currentFact", err)
	}
	return c, nil
}

func (s *Store) CurrentChronicles(ctx context.Context, ownerID string) ([]*store.Chronicle, error) {
	if err := s.guard("currentChronicles"); err != nil {
		return nil, err
	}
	now := toMS(s.clock())
	return s.queryChronicles(ctx, "currentChronicles", `
		SELECT `+chronicleColumns+` FROM chronicles
		WHERE owner_id = $1
		  AND effective_from <= $2 AND (effective_until IS NULL OR effective_until > $2)
		ORDER BY entity ASC, attribute ASC, id ASC`,
		ownerID, now)
}

func (s *Store) Timeline(ctx context.Context, ownerID, entity string) ([]*store.Chronicle, error) {
	if err := s.guard("timeline"); err != nil {
		return nil, err
	}
	return s.queryChronicles(ctx, "timeline", `
		SELECT `+chronicleColumns+` FROM chronicles
		WHERE owner_id = $1 AND entity = $2
		ORDER BY effective_from ASC, id ASC`,
		ownerID, entity)
}

func (s *Store) CreateNexus(ctx context.Context, n *store.Nexus) error {
	if err := s.guard("createNexus"); err != nil {
		return err
	}

	cp := n.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clock()
	}

	// Both endpoints must be the owner's chronicles; the foreign keys
	// only check existence, not ownership.
	var owned int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chronicles WHERE owner_id = $1 AND id IN ($2, $3)`,
		cp.OwnerID, cp.OriginID, cp.LinkedID).Scan(&owned)
	if err != nil {
		return store.WrapError("createNexus", err)
	}
	want := 2
	if cp.OriginID == cp.LinkedID {
		want = 1
	}
	if owned != want {
		return store.WrapError("createNexus", store.ErrNotFound)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO nexuses (id, owner_id, origin_id, linked_id, bond_type, strength, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cp.ID, cp.OwnerID, cp.OriginID, cp.LinkedID, cp.BondType, cp.Strength,
		toMS(cp.CreatedAt), cp.Metadata)
	if err != nil {
		return mapConstraint("createNexus", err)
	}
	return nil
}

func (s *Store) RelatedChronicles(ctx context.Context, ownerID, chronicleID string) ([]*store.Chronicle, error) {
	if err := s.guard("relatedChronicles"); err != nil {
		return nil, err
	}
	if _, err := s.GetChronicle(ctx, ownerID, chronicleID); err != nil {
		return nil, store.WrapError("relatedChronicles", store.ErrNotFound)
	}
	return s.queryChronicles(ctx, "relatedChronicles", `
		SELECT DISTINCT c.id, c.owner_id, c.entity, c.attribute, c.value, c.certainty,
			c.effective_from, c.effective_until, c.recorded_at, c.metadata
		FROM chronicles c
		JOIN nexuses n ON n.owner_id = c.owner_id
			AND ((n.origin_id = $1 AND c.id = n.linked_id)
			  OR (n.linked_id = $1 AND c.id = n.origin_id))
		WHERE c.owner_id = $2 AND c.id != $1
		ORDER BY c.effective_from DESC, c.id ASC`,
		chronicleID, ownerID)
}

func (s *Store) Stats(ctx context.Context, ownerID string) (*store.Stats, error) {
	if err := s.guard("stats"); err != nil {
		return nil, err
	}

	stats := &store.Stats{
		EngramsByStrand: make(map[store.Strand]int64),
	}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(signal), 0) FROM engrams WHERE owner_id = $1`,
		ownerID).Scan(&stats.Engrams, &stats.AvgSignal)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT strand, COUNT(*) FROM engrams WHERE owner_id = $1 GROUP BY strand`,
		ownerID)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			strand string
			n      int64
		)
		if err := rows.Scan(&strand, &n); err != nil {
			return nil, store.WrapError("stats", err)
		}
		stats.EngramsByStrand[store.Strand(strand)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("stats", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM synapses WHERE owner_id = $1`, ownerID).Scan(&stats.Synapses)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE effective_until IS NULL)
		FROM chronicles WHERE owner_id = $1`,
		ownerID).Scan(&stats.Chronicles, &stats.OpenChronicles)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM nexuses WHERE owner_id = $1`, ownerID).Scan(&stats.Nexuses)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	return stats, nil
}

func (s *Store) queryChronicles(ctx context.Context, op, query string, args ...any) ([]*store.Chronicle, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError(op, err)
	}
	defer rows.Close()

	var out []*store.Chronicle
	for rows.Next() {
		c, err := scanChronicle(rows)
		if err != nil {
			return nil, store.WrapError(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError(op, err)
	}
	return out, nil
}

func scanChronicle(row pgx.Row) (*store.Chronicle, error) {
	var (
		c     store.Chronicle
		from  int64
		until *int64
		rec   int64
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Entity, &c.Attribute, &c.Value, &c.Certainty,
		&from, &until, &rec, &c.Metadata)
	if err != nil {
		return nil, err
	}
	c.EffectiveFrom = fromMS(from)
	if until != nil {
		t := fromMS(*until)
		c.EffectiveUntil = &t
	}
	c.RecordedAt = fromMS(rec)
	return &c, nil
}
