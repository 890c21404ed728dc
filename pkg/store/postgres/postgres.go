// Package postgres persists hippocampus memories in PostgreSQL with
// pgvector. Vector search runs inside the database over an HNSW index
// with cosine distance; tags and metadata use native array and JSONB
// columns.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/juspay/hippocampus/pkg/store"
)

// Store is the PostgreSQL-backed store.Store implementation. Safe for
// concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	dims  int
	clock func() time.Time

	mu     sync.RWMutex
	closed bool
}

var _ store.Store = (*Store)(nil)

// Option tunes a Store.
type Option func(*Store)

// WithClock replaces the clock used to stamp rows.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.clock = fn }
}

// New connects a pool to the given DSN. dims fixes the vector column
// width and must match the embedder. Call Init before anything else.
func New(ctx context.Context, dsn string, dims int, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, store.WrapError("init", fmt.Errorf("%w: dsn cannot be empty", store.ErrInvalidConfig))
	}
	if dims <= 0 {
		return nil, store.WrapError("init", fmt.Errorf("%w: vector dimensions must be positive", store.ErrInvalidConfig))
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, store.WrapError("init", fmt.Errorf("%w: %v", store.ErrInvalidConfig, err))
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, store.WrapError("init", err)
	}

	s := &Store{
		pool:  pool,
		dims:  dims,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the extension, tables, and indexes. Every statement is
// idempotent.
func (s *Store) Init(ctx context.Context) error {
	if err := s.guard("init"); err != nil {
		return err
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS engrams (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			strand TEXT NOT NULL,
			tags TEXT[],
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			signal DOUBLE PRECISION NOT NULL,
			pulse_rate DOUBLE PRECISION NOT NULL,
			access_count BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			last_accessed_at BIGINT NOT NULL,
			UNIQUE (owner_id, content_hash)
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS idx_engrams_owner_created ON engrams(owner_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_engrams_owner_strand ON engrams(owner_id, strand)`,
		`CREATE INDEX IF NOT EXISTS idx_engrams_embedding ON engrams USING hnsw (embedding vector_cosine_ops)`,

		`CREATE TABLE IF NOT EXISTS synapses (
			owner_id TEXT NOT NULL,
			source_id TEXT NOT NULL REFERENCES engrams(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES engrams(id) ON DELETE CASCADE,
			weight DOUBLE PRECISION NOT NULL,
			formed_at BIGINT NOT NULL,
			reinforced_at BIGINT NOT NULL,
			PRIMARY KEY (owner_id, source_id, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_synapses_source ON synapses(owner_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_synapses_target ON synapses(owner_id, target_id)`,

		`CREATE TABLE IF NOT EXISTS chronicles (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			entity TEXT NOT NULL,
			attribute TEXT NOT NULL,
			value TEXT NOT NULL,
			certainty DOUBLE PRECISION NOT NULL,
			effective_from BIGINT NOT NULL,
			effective_until BIGINT,
			recorded_at BIGINT NOT NULL,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chronicles_lookup ON chronicles(owner_id, entity, attribute, effective_from)`,

		`CREATE TABLE IF NOT EXISTS nexuses (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			origin_id TEXT NOT NULL REFERENCES chronicles(id) ON DELETE CASCADE,
			linked_id TEXT NOT NULL REFERENCES chronicles(id) ON DELETE CASCADE,
			bond_type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nexuses_origin ON nexuses(owner_id, origin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_nexuses_linked ON nexuses(owner_id, linked_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return store.WrapError("init", err)
		}
	}
	return nil
}

// Close releases the pool. Subsequent operations fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.guard("healthCheck"); err != nil {
		return err
	}
	if err := s.pool.Ping(ctx); err != nil {
		return store.WrapError("healthCheck", err)
	}
	return nil
}

func (s *Store) guard(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.WrapError(op, store.ErrStoreClosed)
	}
	return nil
}

// Timestamps are stored as BIGINT milliseconds since the Unix epoch,
// UTC, matching the SQLite backend.

func toMS(t time.Time) int64 { return t.UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMS(*t)
}

// Postgres error classes for constraint violations.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// mapConstraint rewrites constraint violations onto the store
// sentinels.
func mapConstraint(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return store.WrapError(op, store.ErrConflict)
		case codeForeignKeyViolation:
			return store.WrapError(op, store.ErrNotFound)
		}
	}
	return store.WrapError(op, err)
}

// wrapScan rewrites pgx.ErrNoRows onto the store sentinel.
func wrapScan(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.WrapError(op, store.ErrNotFound)
	}
	return store.WrapError(op, err)
}
