package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/juspay/hippocampus/pkg/store"
)

const engramColumns = `id, owner_id, content, content_hash, strand, tags, metadata,
	embedding, signal, pulse_rate, access_count, version,
	created_at, updated_at, last_accessed_at`

func (s *Store) CreateEngram(ctx context.Context, e *store.Engram) error {
	if err := s.guard("createEngram"); err != nil {
		return err
	}
	if err := s.checkDims("createEngram", e.Embedding); err != nil {
		return err
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

	_, err := s.pool.Exec(ctx, `
		INSERT INTO engrams (`+engramColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		cp.ID, cp.OwnerID, cp.Content, cp.ContentHash, string(cp.Strand), cp.Tags, cp.Metadata,
		pgvector.NewVector(cp.Embedding), cp.Signal, cp.PulseRate, cp.AccessCount, cp.Version,
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
	row := s.pool.QueryRow(ctx, `
		SELECT `+engramColumns+` FROM engrams WHERE owner_id = $1 AND id = $2`,
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
	row := s.pool.QueryRow(ctx, `
		SELECT `+engramColumns+` FROM engrams WHERE owner_id = $1 AND content_hash = $2`,
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
	if err := s.checkDims("updateEngram", e.Embedding); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE engrams SET
			content = $1, content_hash = $2, strand = $3, tags = $4, metadata = $5,
			embedding = $6, signal = $7, pulse_rate = $8, access_count = $9,
			last_accessed_at = $10, version = version + 1, updated_at = $11
		WHERE owner_id = $12 AND id = $13`,
		e.Content, e.ContentHash, string(e.Strand), e.Tags, e.Metadata,
		pgvector.NewVector(e.Embedding), e.Signal, e.PulseRate, e.AccessCount,
		toMS(e.LastAccessedAt), toMS(s.clock()),
		e.OwnerID, e.ID)
	if err != nil {
		return mapConstraint("updateEngram", err)
	}
	return requireAffected("updateEngram", tag)
}

func (s *Store) DeleteEngram(ctx context.Context, ownerID, id string) error {
	if err := s.guard("deleteEngram"); err != nil {
		return err
	}
	// Synapses go with it through the cascading foreign keys.
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM engrams WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return store.WrapError("deleteEngram", err)
	}
	return requireAffected("deleteEngram", tag)
}

func (s *Store) ListEngrams(ctx context.Context, ownerID string, limit, offset int, strand store.Strand) ([]*store.Engram, error) {
	if err := s.guard("listEngrams"); err != nil {
		return nil, err
	}

	query := `SELECT ` + engramColumns + ` FROM engrams WHERE owner_id = $1`
	args := []any{ownerID}
	if strand != "" {
		args = append(args, string(strand))
		query += fmt.Sprintf(` AND strand = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError("listEngrams", err)
	}
	defer rows.Close()

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
	if err := s.checkDims("vectorSearch", embedding); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	// <=> is cosine distance (1 - cos); score maps it onto the backend
	// contract of (1 + cos) / 2.
	query := `
		SELECT ` + engramColumns + `, (2 - (embedding <=> $1)) / 2 AS score
		FROM engrams WHERE owner_id = $2`
	args := []any{pgvector.NewVector(embedding), ownerID}
	if strand != "" {
		args = append(args, string(strand))
		query += fmt.Sprintf(` AND strand = $%d`, len(args))
	}
	args = append(args, k)
	query += fmt.Sprintf(` ORDER BY embedding <=> $1, id ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, store.WrapError("vectorSearch", err)
	}
	defer rows.Close()

	var matches []store.VectorMatch
	for rows.Next() {
		m, err := scanVectorMatch(rows)
		if err != nil {
			return nil, store.WrapError("vectorSearch", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError("vectorSearch", err)
	}
	return matches, nil
}

func (s *Store) ReinforceEngram(ctx context.Context, ownerID, id string, boost float64) (*store.Engram, error) {
	if err := s.guard("reinforceEngram"); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE engrams SET
			signal = LEAST(1.0, signal + $1), version = version + 1, updated_at = $2
		WHERE owner_id = $3 AND id = $4
		RETURNING `+engramColumns,
		boost, toMS(s.clock()), ownerID, id)
	e, err := scanEngram(row)
	if err != nil {
		return nil, wrapScan("reinforceEngram", err)
	}
	return e, nil
}

func (s *Store) DecayEngrams(ctx context.Context, ownerID string, strand store.Strand, rate, minSignal float64) (int64, error) {
	if err := s.guard("decayEngrams"); err != nil {
		return 0, err
	}

	query := `
		UPDATE engrams SET signal = GREATEST(signal * $1, $2), updated_at = $3
		WHERE owner_id = $4 AND signal > $2`
	args := []any{rate, minSignal, toMS(s.clock()), ownerID}
	if strand != "" {
		args = append(args, string(strand))
		query += fmt.Sprintf(` AND strand = $%d`, len(args))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, store.WrapError("decayEngrams", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) RecordAccess(ctx context.Context, ownerID, id string) error {
	if err := s.guard("recordAccess"); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE engrams SET access_count = access_count + 1, last_accessed_at = $1
		WHERE owner_id = $2 AND id = $3`,
		toMS(s.clock()), ownerID, id)
	if err != nil {
		return store.WrapError("recordAccess", err)
	}
	return requireAffected("recordAccess", tag)
}

// checkDims enforces the fixed vector width before the round trip so
// callers get the sentinel instead of a database error.
func (s *Store) checkDims(op string, embedding []float32) error {
	if len(embedding) == 0 {
		return store.WrapError(op, store.ErrInvalidVector)
	}
	if len(embedding) != s.dims {
		return store.WrapError(op, store.ErrInvalidDimension)
	}
	return nil
}

func scanEngram(row pgx.Row) (*store.Engram, error) {
	var (
		e        store.Engram
		strand   string
		vec      pgvector.Vector
		created  int64
		updated  int64
		accessed int64
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Content, &e.ContentHash, &strand, &e.Tags, &e.Metadata,
		&vec, &e.Signal, &e.PulseRate, &e.AccessCount, &e.Version,
		&created, &updated, &accessed)
	if err != nil {
		return nil, err
	}
	e.Strand = store.Strand(strand)
	e.Embedding = vec.Slice()
	e.CreatedAt = fromMS(created)
	e.UpdatedAt = fromMS(updated)
	e.LastAccessedAt = fromMS(accessed)
	return &e, nil
}

func scanVectorMatch(row pgx.Row) (store.VectorMatch, error) {
	var (
		e        store.Engram
		strand   string
		vec      pgvector.Vector
		created  int64
		updated  int64
		accessed int64
		score    float64
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.Content, &e.ContentHash, &strand, &e.Tags, &e.Metadata,
		&vec, &e.Signal, &e.PulseRate, &e.AccessCount, &e.Version,
		&created, &updated, &accessed, &score)
	if err != nil {
		return store.VectorMatch{}, err
	}
	e.Strand = store.Strand(strand)
	e.Embedding = vec.Slice()
	e.CreatedAt = fromMS(created)
	e.UpdatedAt = fromMS(updated)
	e.LastAccessedAt = fromMS(accessed)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return store.VectorMatch{Engram: &e, Score: score}, nil
}

// requireAffected turns a zero-row write into ErrNotFound.
func requireAffected(op string, tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return store.WrapError(op, store.ErrNotFound)
	}
	return nil
}
