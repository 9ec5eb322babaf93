// ABOUTME: In-memory Store implementation for testing
// ABOUTME: Allows manager and supervisor tests to run without SQLite

package store

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/2389/adventure-gateway/internal/session"
)

// MemoryStore is an in-memory Store implementation. It mirrors the SQLite
// store's semantics, including LastSavedAt stamping on Put.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	// FailNextPut, when set, makes the next Put return a StorageError.
	// Tests use it to verify that storage failures fail only one operation.
	FailNextPut error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*session.Session)}
}

// Get returns a copy of the owner's session, or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, ownerID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Put stores a copy of the session, stamping LastSavedAt.
func (m *MemoryStore) Put(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailNextPut; err != nil {
		m.FailNextPut = nil
		return &StorageError{Op: "put", Err: err}
	}

	s.LastSavedAt = time.Now().UTC()
	m.sessions[s.OwnerID] = s.Clone()
	return nil
}

// Delete removes the owner's session, reporting whether one existed.
func (m *MemoryStore) Delete(ctx context.Context, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[ownerID]
	delete(m.sessions, ownerID)
	return ok, nil
}

// ListActive returns the owners of every active session.
func (m *MemoryStore) ListActive(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owners []string
	for id, s := range m.sessions {
		if s.State == session.StateActive {
			owners = append(owners, id)
		}
	}
	return owners, nil
}

// ListOwners returns every owner with a record.
func (m *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		owners = append(owners, id)
	}
	return owners, nil
}

// ListIdle returns owners of active sessions idle longer than olderThan.
func (m *MemoryStore) ListIdle(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owners []string
	for id, s := range m.sessions {
		if s.State == session.StateActive && s.LastActiveAt.Before(cutoff) {
			owners = append(owners, id)
		}
	}
	return owners, nil
}

// ListStale returns owners whose last save is older than olderThan.
func (m *MemoryStore) ListStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owners []string
	for id, s := range m.sessions {
		if s.LastSavedAt.Before(cutoff) {
			owners = append(owners, id)
		}
	}
	return owners, nil
}

// ListExpired lazily yields owners whose last save exceeds maxAge.
func (m *MemoryStore) ListExpired(ctx context.Context, maxAge time.Duration) iter.Seq2[string, error] {
	cutoff := time.Now().UTC().Add(-maxAge)
	return func(yield func(string, error) bool) {
		m.mu.RLock()
		var owners []string
		for id, s := range m.sessions {
			if s.LastSavedAt.Before(cutoff) {
				owners = append(owners, id)
			}
		}
		m.mu.RUnlock()

		for _, id := range owners {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// SetLastSaved overrides a stored session's save timestamp. Test helper for
// exercising staleness and retention paths without real waiting.
func (m *MemoryStore) SetLastSaved(ownerID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[ownerID]; ok {
		s.LastSavedAt = t
	}
}

// ClearAll removes every session and returns the number removed.
func (m *MemoryStore) ClearAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.sessions)
	m.sessions = make(map[string]*session.Session)
	return n, nil
}

// Stats reports cache-wide counts.
func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	for _, s := range m.sessions {
		st.Total++
		switch s.State {
		case session.StateActive:
			st.Active++
		case session.StatePaused:
			st.Paused++
		}
		if st.Oldest.IsZero() || s.CreatedAt.Before(st.Oldest) {
			st.Oldest = s.CreatedAt
		}
	}
	return st, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
