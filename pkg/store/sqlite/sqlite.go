// Package sqlite persists hippocampus memories in a single SQLite file
// using the pure-Go modernc driver. Vectors are stored as little-endian
// blobs and scored in process; tags and metadata are JSON columns.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/juspay/hippocampus/pkg/store"
)

// Store is the SQLite-backed store.Store implementation. Safe for
// concurrent use.
type Store struct {
	db    *sql.DB
	path  string
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

// New creates a store over the given database file. Call Init before
// anything else.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, store.WrapError("init", fmt.Errorf("%w: database path cannot be empty", store.ErrInvalidConfig))
	}
	s := &Store{
		path:  path,
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init opens the database and creates the schema.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.WrapError("init", store.ErrStoreClosed)
	}

	// _journal_mode=WAL: better concurrency
	// _synchronous=NORMAL: good balance of safety and speed
	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	// _cache_size=-2000: 2MB page cache (negative value = kb)
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return store.WrapError("init", fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)
	s.db = db

	// Foreign keys drive the cascading deletes of synapses and nexuses.
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return store.WrapError("init", fmt.Errorf("failed to enable foreign keys: %w", err))
	}
	if err := s.createTables(ctx); err != nil {
		return store.WrapError("init", err)
	}
	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS engrams (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		strand TEXT NOT NULL,
		tags TEXT,
		metadata TEXT,
		embedding BLOB NOT NULL,
		signal REAL NOT NULL,
		pulse_rate REAL NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		UNIQUE (owner_id, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_engrams_owner_created ON engrams(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_engrams_owner_strand ON engrams(owner_id, strand);

	CREATE TABLE IF NOT EXISTS synapses (
		owner_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		weight REAL NOT NULL,
		formed_at INTEGER NOT NULL,
		reinforced_at INTEGER NOT NULL,
		PRIMARY KEY (owner_id, source_id, target_id),
		FOREIGN KEY (source_id) REFERENCES engrams(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES engrams(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_synapses_source ON synapses(owner_id, source_id);
	CREATE INDEX IF NOT EXISTS idx_synapses_target ON synapses(owner_id, target_id);

	CREATE TABLE IF NOT EXISTS chronicles (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		attribute TEXT NOT NULL,
		value TEXT NOT NULL,
		certainty REAL NOT NULL,
		effective_from INTEGER NOT NULL,
		effective_until INTEGER,
		recorded_at INTEGER NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_chronicles_lookup ON chronicles(owner_id, entity, attribute, effective_from);

	CREATE TABLE IF NOT EXISTS nexuses (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		origin_id TEXT NOT NULL,
		linked_id TEXT NOT NULL,
		bond_type TEXT NOT NULL,
		strength REAL NOT NULL,
		created_at INTEGER NOT NULL,
		metadata TEXT,
		FOREIGN KEY (origin_id) REFERENCES chronicles(id) ON DELETE CASCADE,
		FOREIGN KEY (linked_id) REFERENCES chronicles(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_nexuses_origin ON nexuses(owner_id, origin_id);
	CREATE INDEX IF NOT EXISTS idx_nexuses_linked ON nexuses(owner_id, linked_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close releases the database handle. Subsequent operations fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return store.WrapError("close", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.guard("healthCheck"); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return store.WrapError("healthCheck", err)
	}
	return nil
}

// guard fails fast after Close and before Init.
func (s *Store) guard(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.WrapError(op, store.ErrStoreClosed)
	}
	if s.db == nil {
		return store.WrapError(op, fmt.Errorf("%w: store not initialized", store.ErrInvalidConfig))
	}
	return nil
}

// Timestamps are stored as integer milliseconds since the Unix epoch,
// UTC.

func toMS(t time.Time) int64 { return t.UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMS(*t)
}

// mapConstraint rewrites the driver's constraint failures onto the
// store sentinels. The modernc driver exposes them only as message
// text.
func mapConstraint(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "PRIMARY KEY constraint failed"):
		return store.WrapError(op, store.ErrConflict)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return store.WrapError(op, store.ErrNotFound)
	}
	return store.WrapError(op, err)
}
