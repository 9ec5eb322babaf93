// Package store provides the durable cache backing the session manager.
//
// # Overview
//
// The store owns the authoritative copy of every session: one record per
// owner, serialized as a JSON payload with state and timestamps denormalized
// into columns for the supervisor's enumerations. Two implementations share
// the Store interface:
//
//   - SQLiteStore: production storage via modernc.org/sqlite (WAL mode)
//   - MemoryStore: map-backed implementation for tests
//
// # Semantics
//
// Put is an atomic full overwrite that stamps LastSavedAt; a Put that fails
// leaves the previous durable value intact. Get returns ErrNotFound for
// absent owners. All I/O failures surface as *StorageError and are never
// swallowed.
//
// # Enumerations
//
// The supervisor drives its three maintenance phases off ListIdle,
// ListStale, and ListExpired. ListExpired yields lazily off the cursor as a
// one-shot iter.Seq2 so a large purge never materializes every owner at once.
package store
