package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/juspay/hippocampus/internal/encoding"
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
	meta, err := encoding.EncodeMetadata(cp.Metadata)
	if err != nil {
		return store.WrapError("createChronicle", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chronicles (`+chronicleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.OwnerID, cp.Entity, cp.Attribute, cp.Value, cp.Certainty,
		toMS(cp.EffectiveFrom), nullableMS(cp.EffectiveUntil), toMS(cp.RecordedAt), meta)
	if err != nil {
		return mapConstraint("createChronicle", err)
	}
	return nil
}

func (s *Store) GetChronicle(ctx context.Context, ownerID, id string) (*store.Chronicle, error) {
	if err := s.guard("getChronicle"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chronicleColumns+` FROM chronicles WHERE owner_id = ? AND id = ?`,
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
	meta, err := encoding.EncodeMetadata(c.Metadata)
	if err != nil {
		return store.WrapError("updateChronicle", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE chronicles SET
			entity = ?, attribute = ?, value = ?, certainty = ?,
			effective_from = ?, effective_until = ?, recorded_at = ?, metadata = ?
		WHERE owner_id = ? AND id = ?`,
		c.Entity, c.Attribute, c.Value, c.Certainty,
		toMS(c.EffectiveFrom), nullableMS(c.EffectiveUntil), toMS(c.RecordedAt), meta,
		c.OwnerID, c.ID)
	if err != nil {
		return store.WrapError("updateChronicle", err)
	}
	return requireAffected("updateChronicle", res)
}

func (s *Store) ExpireChronicle(ctx context.Context, ownerID, id string, at time.Time) (*store.Chronicle, error) {
	if err := s.guard("expireChronicle"); err != nil {
		return nil, err
	}
	// Only open chronicles close; expiring twice is a no-op.
	_, err := s.db.ExecContext(ctx, `
		UPDATE chronicles SET effective_until = ?
		WHERE owner_id = ? AND id = ? AND effective_until IS NULL`,
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

	query := `SELECT ` + chronicleColumns + ` FROM chronicles WHERE owner_id = ?`
	args := []any{ownerID}
	if q.Entity != "" {
		query += ` AND entity = ?`
		args = append(args, q.Entity)
	}
	if q.Attribute != "" {
		query += ` AND attribute = ?`
		args = append(args, q.Attribute)
	}
	if q.At != nil {
		query += ` AND effective_from <= ? AND (effective_until IS NULL OR effective_until > ?)`
		args = append(args, toMS(*q.At), toMS(*q.At))
	}
	if q.From != nil {
		query += ` AND effective_from >= ?`
		args = append(args, toMS(*q.From))
	}
	if q.To != nil {
		query += ` AND effective_from <= ?`
		args = append(args, toMS(*q.To))
	}
	query += ` ORDER BY effective_from DESC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return s.queryChronicles(ctx, "queryChronicles", query, args...)
}

func (s *Store) CurrentFact(ctx context.Context, ownerID, entity, attribute string) (*store.Chronicle, error) {
	if err := s.guard("currentFact"); err != nil {
		return nil, err
	}
	now := toMS(s.clock())
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chronicleColumns+` FROM chronicles
		WHERE owner_id = ? AND entity = ? AND attribute = ?
		  AND effective_from <= ? AND (effective_until IS NULL OR effective_until > ?)
		ORDER BY effective_from DESC LIMIT 1`,
		ownerID, entity, attribute, now, now)
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
		WHERE owner_id = ?
		  AND effective_from <= ? AND (effective_until IS NULL OR effective_until > ?)
		ORDER BY entity ASC, attribute ASC, id ASC`,
		ownerID, now, now)
}

func (s *Store) Timeline(ctx context.Context, ownerID, entity string) ([]*store.Chronicle, error) {
	if err := s.guard("timeline"); err != nil {
		return nil, err
	}
	return s.queryChronicles(ctx, "timeline", `
		SELECT `+chronicleColumns+` FROM chronicles
		WHERE owner_id = ? AND entity = ?
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
	meta, err := encoding.EncodeMetadata(cp.Metadata)
	if err != nil {
		return store.WrapError("createNexus", err)
	}

	// Both endpoints must be the owner's chronicles; the foreign keys
	// only check existence, not ownership.
	var owned int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chronicles WHERE owner_id = ? AND id IN (?, ?)`,
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nexuses (id, owner_id, origin_id, linked_id, bond_type, strength, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.OwnerID, cp.OriginID, cp.LinkedID, cp.BondType, cp.Strength,
		toMS(cp.CreatedAt), meta)
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
			AND ((n.origin_id = ? AND c.id = n.linked_id)
			  OR (n.linked_id = ? AND c.id = n.origin_id))
		WHERE c.owner_id = ? AND c.id != ?
		ORDER BY c.effective_from DESC, c.id ASC`,
		chronicleID, chronicleID, ownerID, chronicleID)
}

func (s *Store) Stats(ctx context.Context, ownerID string) (*store.Stats, error) {
	if err := s.guard("stats"); err != nil {
		return nil, err
	}

	stats := &store.Stats{
		EngramsByStrand: make(map[store.Strand]int64),
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(signal), 0) FROM engrams WHERE owner_id = ?`,
		ownerID).Scan(&stats.Engrams, &stats.AvgSignal)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strand, COUNT(*) FROM engrams WHERE owner_id = ? GROUP BY strand`,
		ownerID)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	defer func() { _ = rows.Close() }()
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

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM synapses WHERE owner_id = ?`, ownerID).Scan(&stats.Synapses)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(effective_until IS NULL), 0)
		FROM chronicles WHERE owner_id = ?`,
		ownerID).Scan(&stats.Chronicles, &stats.OpenChronicles)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nexuses WHERE owner_id = ?`, ownerID).Scan(&stats.Nexuses)
	if err != nil {
		return nil, store.WrapError("stats", err)
	}
	return stats, nil
}

func (s *Store) queryChronicles(ctx context.Context, op, query string, args ...any) ([]*store.Chronicle, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError(op, err)
	}
	defer func() { _ = rows.Close() }()

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

func scanChronicle(row scanner) (*store.Chronicle, error) {
	var (
		c     store.Chronicle
		from  int64
		until sql.NullInt64
		rec   int64
		meta  sql.NullString
	)
	err := row.Scan(&c.ID, &c.OwnerID, &c.Entity, &c.Attribute, &c.Value, &c.Certainty,
		&from, &until, &rec, &meta)
	if err != nil {
		return nil, err
	}
	c.EffectiveFrom = fromMS(from)
	if until.Valid {
		t := fromMS(until.Int64)
		c.EffectiveUntil = &t
	}
	c.RecordedAt = fromMS(rec)
	if c.Metadata, err = encoding.DecodeMetadata(meta.String); err != nil {
		return nil, err
	}
	return &c, nil
}
