// ABOUTME: Store interface and error types for adventure-gateway persistence
// ABOUTME: The durable cache owns the authoritative copy of every session

package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/2389/adventure-gateway/internal/session"
)

// ErrNotFound is returned when no session exists for the requested owner.
var ErrNotFound = errors.New("session not found")

// StorageError wraps a persistence I/O failure. Storage failures are never
// silently swallowed; callers detect them with errors.As.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Stats summarizes the cache contents for tooling.
type Stats struct {
	Total  int
	Active int
	Paused int
	Oldest time.Time // zero when the cache is empty
}

// Store is the durable cache backing the session manager. At most one
// record exists per owner. Put is an atomic full overwrite that stamps
// LastSavedAt; a failed Put leaves the previous durable value intact.
type Store interface {
	// Get returns the session for ownerID, or ErrNotFound.
	Get(ctx context.Context, ownerID string) (*session.Session, error)

	// Put atomically writes the full session, setting LastSavedAt to now
	// on both the durable row and the passed session.
	Put(ctx context.Context, s *session.Session) error

	// Delete removes the owner's record, reporting whether one existed.
	Delete(ctx context.Context, ownerID string) (bool, error)

	// ListActive returns the owners of every active session.
	ListActive(ctx context.Context) ([]string, error)

	// ListOwners returns every owner with a record, in any state.
	ListOwners(ctx context.Context) ([]string, error)

	// ListIdle returns owners of active sessions whose last activity is
	// older than olderThan.
	ListIdle(ctx context.Context, olderThan time.Duration) ([]string, error)

	// ListStale returns owners whose LastSavedAt is older than olderThan,
	// regardless of state. Used to drive periodic auto-save.
	ListStale(ctx context.Context, olderThan time.Duration) ([]string, error)

	// ListExpired lazily yields owners whose LastSavedAt exceeds maxAge.
	// The sequence is one-shot and finite; iteration errors are yielded
	// in the second position.
	ListExpired(ctx context.Context, maxAge time.Duration) iter.Seq2[string, error]

	// ClearAll removes every record and returns the number removed.
	ClearAll(ctx context.Context) (int, error)

	// Stats reports cache-wide counts for admin tooling.
	Stats(ctx context.Context) (Stats, error)

	// Close releases underlying resources.
	Close() error
}
