package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/juspay/hippocampus/internal/encoding"
	"github.com/juspay/hippocampus/pkg/rank"
	"github.com/juspay/hippocampus/pkg/store"
)

const engramColumns = `id, owner_id, content, content_hash, strand, tags, metadata,
	embedding, signal, pulse_rate, access_count, version,
	created_at, updated_at, last_accessed_at`

func (s *Store) CreateEngram(ctx context.Context, e *store.Engram) error {
	if err := s.guard("createEngram"); err != nil {
		return err
	}
	if err := encoding.ValidateVector(e.Embedding); err != nil {
		return store.WrapError("createEngram", store.ErrInvalidVector)
	}

	now := s.clock()
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

	blob, err := encoding.EncodeVector(cp.Embedding)
	if err != nil {
		return store.WrapError("createEngram", err)
	}
	tags, err := encoding.EncodeTags(cp.Tags)
	if err != nil {
		return store.WrapError("createEngram", err)
	}
	meta, err := encoding.EncodeMetadata(cp.Metadata)
	if err != nil {
		return store.WrapError("createEngram", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO engrams (`+engramColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.OwnerID, cp.Content, cp.ContentHash, string(cp.Strand), tags, meta,
		blob, cp.Signal, cp.PulseRate, cp.AccessCount, cp.Version,
		toMS(cp.CreatedAt), toMS(cp.UpdatedAt), toMS(cp.LastAccessedAt))
	if err != nil {
		return mapConstraint("createEngram", err)
	}
	return nil
}

func (s *Store) GetEngram(ctx context.Context, ownerID, id string) (*store.Engram, error) {
	if err := s.guard("getEngram"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+engramColumns+` FROM engrams WHERE owner_id = ? AND id = ?`,
		ownerID, id)
	e, err := scanEngram(row)
	if err != nil {
		return nil, wrapScan("getEngram", err)
	}
	return e, nil
}

func (s *Store) FindByContentHash(ctx context.Context, ownerID, hash string) (*store.Engram, error) {
	if err := s.guard("findByContentHash"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+engramColumns+` FROM engrams WHERE owner_id = ? AND content_hash = ?`,
		ownerID, hash)
	e, err := scanEngram(row)
	if err != nil {
		return nil, wrapScan("findByContentHash", err)
	}
	return e, nil
}

func (s *Store) UpdateEngram(ctx context.Context, e *store.Engram) error {
	if err := s.guard("updateEngram"); err != nil {
		return err
	}
	if err := encoding.ValidateVector(e.Embedding); err != nil {
		return store.WrapError("updateEngram", store.ErrInvalidVector)
	}
	blob, err := encoding.EncodeVector(e.Embedding)
	if err != nil {
		return store.WrapError("updateEngram", err)
	}
	tags, err := encoding.EncodeTags(e.Tags)
	if err != nil {
		return store.WrapError("updateEngram", err)
	}
	meta, err := encoding.EncodeMetadata(e.Metadata)
	if err != nil {
		return store.WrapError("updateEngram", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET
			content = ?, content_hash = ?, strand = ?, tags = ?, metadata = ?,
			embedding = ?, signal = ?, pulse_rate = ?, access_count = ?,
			last_accessed_at = ?, version = version + 1, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		e.Content, e.ContentHash, string(e.Strand), tags, meta,
		blob, e.Signal, e.PulseRate, e.AccessCount,
		toMS(e.LastAccessedAt), toMS(s.clock()),
		e.OwnerID, e.ID)
	if err != nil {
		return mapConstraint("updateEngram", err)
	}
	return requireAffected("updateEngram", res)
}

func (s *Store) DeleteEngram(ctx context.Context, ownerID, id string) error {
	if err := s.guard("deleteEngram"); err != nil {
		return err
	}
	// Synapses go with it through the cascading foreign keys.
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM engrams WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return store.WrapError("deleteEngram", err)
	}
	return requireAffected("deleteEngram", res)
}

func (s *Store) ListEngrams(ctx context.Context, ownerID string, limit, offset int, strand store.Strand) ([]*store.Engram, error) {
	if err := s.guard("listEngrams"); err != nil {
		return nil, err
	}

	query := `SELECT ` + engramColumns + ` FROM engrams WHERE owner_id = ?`
	args := []any{ownerID}
	if strand != "" {
		query += ` AND strand = ?`
		args = append(args, string(strand))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	} else {
		// SQLite requires LIMIT before OFFSET.
		query += ` LIMIT -1`
	}
	if offset > 0 {
		query += ` OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError("listEngrams", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*store.Engram
	for rows.Next() {
		e, err := scanEngram(rows)
		if err != nil {
			return nil, store.WrapError("listEngrams", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("listEngrams", err)
	}
	return out, nil
}

func (s *Store) VectorSearch(ctx context.Context, ownerID string, embedding []float32, k int, strand store.Strand) ([]store.VectorMatch, error) {
	if err := s.guard("vectorSearch"); err != nil {
		return nil, err
	}
	if err := encoding.ValidateVector(embedding); err != nil {
		return nil, store.WrapError("vectorSearch", store.ErrInvalidVector)
	}
	if k <= 0 {
		return nil, nil
	}

	query := `SELECT ` + engramColumns + ` FROM engrams WHERE owner_id = ?`
	args := []any{ownerID}
	if strand != "" {
		query += ` AND strand = ?`
		args = append(args, string(strand))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError("vectorSearch", err)
	}
	defer func() { _ = rows.Close() }()

	// Brute-force scoring in process. Fine for the single-file backend;
	// the Postgres backend pushes this into the database.
	var matches []store.VectorMatch
	for rows.Next() {
		e, err := scanEngram(rows)
		if err != nil {
			return nil, store.WrapError("vectorSearch", err)
		}
		if len(e.Embedding) != len(embedding) {
			return nil, store.WrapError("vectorSearch", store.ErrInvalidDimension)
		}
		score := rank.CosineToScore(rank.CosineSimilarity(embedding, e.Embedding))
		matches = append(matches, store.VectorMatch{Engram: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("vectorSearch", err)
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
	return matches, nil
}

func (s *Store) ReinforceEngram(ctx context.Context, ownerID, id string, boost float64) (*store.Engram, error) {
	if err := s.guard("reinforceEngram"); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET
			signal = MIN(1.0, signal + ?), version = version + 1, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		boost, toMS(s.clock()), ownerID, id)
	if err != nil {
		return nil, store.WrapError("reinforceEngram", err)
	}
	if err := requireAffected("reinforceEngram", res); err != nil {
		return nil, err
	}
	return s.GetEngram(ctx, ownerID, id)
}

func (s *Store) DecayEngrams(ctx context.Context, ownerID string, strand store.Strand, rate, minSignal float64) (int64, error) {
	if err := s.guard("decayEngrams"); err != nil {
		return 0, err
	}

	query := `
		UPDATE engrams SET signal = MAX(signal * ?, ?), updated_at = ?
		WHERE owner_id = ? AND signal > ?`
	args := []any{rate, minSignal, toMS(s.clock()), ownerID, minSignal}
	if strand != "" {
		query += ` AND strand = ?`
		args = append(args, string(strand))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, store.WrapError("decayEngrams", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, store.WrapError("decayEngrams", err)
	}
	return affected, nil
}

func (s *Store) RecordAccess(ctx context.Context, ownerID, id string) error {
	if err := s.guard("recordAccess"); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE engrams SET access_count = access_count + 1, last_accessed_at = ?
		WHERE owner_id = ? AND id = ?`,
		toMS(s.clock()), ownerID, id)
	if err != nil {
		return store.WrapError("recordAccess", err)
	}
	return requireAffected("recordAccess", res)
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEngram(row scanner) (*store.Engram, error) {
	var (
		e          store.Engram
		strand     string
		tags, meta sql.NullString
		blob       []byte
		created    int64
		updated    int64
		accessed   int64
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Content, &e.ContentHash, &strand, &tags, &meta,
		&blob, &e.Signal, &e.PulseRate, &e.AccessCount, &e.Version,
		&created, &updated, &accessed)
	if err != nil {
		return nil, err
	}

	e.Strand = store.Strand(strand)
	e.CreatedAt = fromMS(created)
	e.UpdatedAt = fromMS(updated)
	e.LastAccessedAt = fromMS(accessed)

	if e.Embedding, err = encoding.DecodeVector(blob); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidVector, err)
	}
	if e.Tags, err = encoding.DecodeTags(tags.String); err != nil {
		return nil, err
	}
	if e.Metadata, err = encoding.DecodeMetadata(meta.String); err != nil {
		return nil, err
	}
	return &e, nil
}

// wrapScan rewrites sql.ErrNoRows onto the store sentinel.
func wrapScan(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.WrapError(op, store.ErrNotFound)
	}
	return store.WrapError(op, err)
}

// requireAffected turns a zero-row write into ErrNotFound.
func requireAffected(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return store.WrapError(op, err)
	}
	if n == 0 {
		return store.WrapError(op, store.ErrNotFound)
	}
	return nil
}
