// ABOUTME: Tests for the in-memory session store
// ABOUTME: Mirrors the SQLite suite plus the fault-injection hook

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/adventure-gateway/internal/session"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	_, err := st.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	sess := newSession("user-1")
	require.NoError(t, st.Put(ctx, sess))
	assert.False(t, sess.LastSavedAt.IsZero())

	got, err := st.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "desert ruins", got.Theme)

	// Get returns a copy; mutating it must not leak back
	got.Theme = "mutated"
	again, err := st.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "desert ruins", again.Theme)

	deleted, err := st.Delete(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = st.Delete(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStore_Listings(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	idle := newSession("idle-user")
	idle.LastActiveAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.Put(ctx, idle))

	require.NoError(t, st.Put(ctx, newSession("fresh-user")))

	owners, err := st.ListIdle(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"idle-user"}, owners)

	paused := newSession("paused-user")
	require.NoError(t, paused.Pause(session.PauseExplicit))
	require.NoError(t, st.Put(ctx, paused))

	active, err := st.ListActive(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"idle-user", "fresh-user"}, active)

	all, err := st.ListOwners(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"idle-user", "fresh-user", "paused-user"}, all)

	// Backdate a save to exercise stale and expired listings
	stale := newSession("stale-user")
	require.NoError(t, st.Put(ctx, stale))
	st.SetLastSaved("stale-user", time.Now().UTC().Add(-10*24*time.Hour))

	owners, err = st.ListStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-user"}, owners)

	var expired []string
	for owner, err := range st.ListExpired(ctx, 7*24*time.Hour) {
		require.NoError(t, err)
		expired = append(expired, owner)
	}
	assert.Equal(t, []string{"stale-user"}, expired)
}

func TestMemoryStore_FailNextPut(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.FailNextPut = errors.New("disk full")
	err := st.Put(ctx, newSession("user-1"))
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))

	// Only the one operation fails
	require.NoError(t, st.Put(ctx, newSession("user-1")))
}

func TestMemoryStore_ClearAll(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, newSession("a")))
	require.NoError(t, st.Put(ctx, newSession("b")))

	count, err := st.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}
