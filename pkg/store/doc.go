// Package store defines the persistence contract for hippocampus.
//
// It holds the entity types shared by every layer (Engram, Synapse,
// Chronicle, Nexus), the Store interface that every backend implements,
// and the error vocabulary callers classify against.
//
// Three backends ship with hippocampus:
//
//   - store/sqlite: embedded, pure-Go SQLite file (the default)
//   - store/postgres: remote PostgreSQL with the pgvector extension
//   - store/memstore: in-memory, used by tests and ephemeral runs
//
// Every operation is scoped to a single owner. Backends never return
// another owner's rows, and cross-owner lookups fail with ErrNotFound
// rather than revealing that a row exists.
package store
