// ABOUTME: Tests for the session manager facade
// ABOUTME: Drives every operation against the in-memory store and mock provider

package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/adventure-gateway/internal/llm"
	"github.com/2389/adventure-gateway/internal/session"
	"github.com/2389/adventure-gateway/internal/store"
)

func testOptions() Options {
	return Options{
		DefaultTheme:   "a fantasy world",
		PromptTemplate: "GM for '{game_theme}'",
		Model:          "test-model",
		MaxTokens:      256,
	}
}

// setupManager wires a manager over an in-memory store and a scripted provider.
func setupManager(t *testing.T, responses ...llm.MockResponse) (*Manager, *store.MemoryStore, *llm.MockClient) {
	t.Helper()
	if len(responses) == 0 {
		responses = []llm.MockResponse{{Content: "A scene unfolds."}}
	}
	st := store.NewMemoryStore()
	client := llm.NewMockClient(responses...)
	return New(st, client, testOptions(), nil), st, client
}

func TestManager_Start(t *testing.T) {
	mgr, st, _ := setupManager(t, llm.MockResponse{Content: "You wake in the dunes."})
	ctx := context.Background()

	res, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	assert.Equal(t, "desert ruins", res.Theme)
	assert.Equal(t, "You wake in the dunes.", res.Narrative)
	assert.Equal(t, 1, res.TurnNumber)

	sess, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, sess.State)
	assert.Equal(t, "desert ruins", sess.Theme)
	assert.Contains(t, sess.SystemPrompt, "desert ruins")
	assert.False(t, sess.LastSavedAt.IsZero())
}

func TestManager_Start_DefaultTheme(t *testing.T) {
	mgr, _, client := setupManager(t)
	ctx := context.Background()

	res, err := mgr.Start(ctx, "U1", "")
	require.NoError(t, err)
	assert.Equal(t, "a fantasy world", res.Theme)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "a fantasy world")
}

func TestManager_Start_AlreadyExists(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)

	_, err = mgr.Start(ctx, "U1", "another theme")
	assert.ErrorIs(t, err, session.ErrAlreadyExists)

	// A paused session blocks starts just the same
	_, err = mgr.Pause(ctx, "U1")
	require.NoError(t, err)
	_, err = mgr.Start(ctx, "U1", "another theme")
	assert.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestManager_Start_ConcurrentUniqueness(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	const attempts = 8
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = mgr.Start(ctx, "U1", "desert ruins")
		}()
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, session.ErrAlreadyExists):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, rejected)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestManager_Start_GenerationFailureLeavesNothing(t *testing.T) {
	mgr, st, _ := setupManager(t, llm.MockResponse{Error: errors.New("provider down")})
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))

	_, err = st.Get(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_SubmitTurn(t *testing.T) {
	mgr, st, client := setupManager(t,
		llm.MockResponse{Content: "Opening scene."},
		llm.MockResponse{Content: "You find a rusty key."},
	)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)

	res, err := mgr.SubmitTurn(ctx, "U1", "search the rubble")
	require.NoError(t, err)
	assert.Equal(t, "You find a rusty key.", res.Narrative)
	assert.Equal(t, 2, res.TurnNumber)

	// The provider sees the full transcript plus the new input
	calls := client.Calls()
	require.Len(t, calls, 2)
	last := calls[1].Messages
	require.Len(t, last, 3)
	assert.Equal(t, llm.RoleAssistant, last[1].Role)
	assert.Equal(t, "Opening scene.", last[1].Content)
	assert.Equal(t, "search the rubble", last[2].Content)

	sess, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 2)
}

func TestManager_SubmitTurn_WhilePaused(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	_, err = mgr.Pause(ctx, "U1")
	require.NoError(t, err)

	_, err = mgr.SubmitTurn(ctx, "U1", "look around")
	var invalid *session.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, session.StatePaused, invalid.State)
	assert.Equal(t, "turn", invalid.Event)

	sess, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 1, "rejected turn must not touch the transcript")
}

func TestManager_SubmitTurn_NoSession(t *testing.T) {
	mgr, _, _ := setupManager(t)

	_, err := mgr.SubmitTurn(context.Background(), "U1", "look")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_SubmitTurn_GenerationFailureIsAllOrNothing(t *testing.T) {
	mgr, st, _ := setupManager(t,
		llm.MockResponse{Content: "Opening scene."},
		llm.MockResponse{Error: errors.New("timeout")},
	)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	before, err := st.Get(ctx, "U1")
	require.NoError(t, err)

	_, err = mgr.SubmitTurn(ctx, "U1", "open the door")
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))

	after, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, after.State)
	assert.Len(t, after.Turns, len(before.Turns))
	assert.Equal(t, before.LastSavedAt, after.LastSavedAt)
}

func TestManager_PauseResumeRoundTrip(t *testing.T) {
	mgr, st, _ := setupManager(t, llm.MockResponse{Content: "Opening scene."})
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	started, err := st.Get(ctx, "U1")
	require.NoError(t, err)

	for range 2 {
		_, err = mgr.Pause(ctx, "U1")
		require.NoError(t, err)
		res, err := mgr.Resume(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, "Opening scene.", res.Narrative, "resume replays the latest scene")
	}

	final, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, started.Theme, final.Theme)
	assert.Equal(t, started.Turns, final.Turns)
	assert.Equal(t, session.StateActive, final.State)
	assert.False(t, final.LastSavedAt.Before(started.LastSavedAt))
}

func TestManager_Pause_ReportsReason(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)

	st, err := mgr.Pause(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, session.StatePaused, st.State)
	assert.Equal(t, session.PauseExplicit, st.PausedReason)
}

func TestManager_Resume_WithoutPausedSession(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Resume(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	_, err = mgr.Resume(ctx, "U1")
	var invalid *session.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, session.StateActive, invalid.State)
}

func TestManager_GetStatus_Idempotent(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	before, err := st.Get(ctx, "U1")
	require.NoError(t, err)

	for range 3 {
		status, err := mgr.GetStatus(ctx, "U1")
		require.NoError(t, err)
		assert.Equal(t, session.StateActive, status.State)
		assert.Equal(t, "desert ruins", status.Theme)
		assert.Equal(t, 1, status.TurnCount)
		assert.GreaterOrEqual(t, status.Age, time.Duration(0))
	}

	after, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Turns, after.Turns)
	assert.Equal(t, before.LastSavedAt, after.LastSavedAt)
}

func TestManager_GetStatus_NotFound(t *testing.T) {
	mgr, _, _ := setupManager(t)

	_, err := mgr.GetStatus(context.Background(), "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_Delete(t *testing.T) {
	mgr, _, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, "U1"))

	_, err = mgr.GetStatus(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, mgr.Delete(ctx, "U1"), store.ErrNotFound)

	// Deleting frees the owner to start over
	_, err = mgr.Start(ctx, "U1", "new theme")
	require.NoError(t, err)
}

func TestManager_ClearAll(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	_, err = mgr.Start(ctx, "U2", "space station")
	require.NoError(t, err)

	// Without the admin flag nothing is touched
	_, err = mgr.ClearAll(ctx, false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)

	count, err := mgr.ClearAll(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	stats, err = st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

// gatedClient blocks inside Chat until released, signalling entry, so tests
// can hold an owner lock mid-operation.
type gatedClient struct {
	entered chan struct{}
	proceed chan struct{}
}

func (c *gatedClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
	close(c.entered)
	<-c.proceed
	return &llm.ChatResponse{Content: "A scene unfolds."}, nil
}

func TestManager_ClearAll_WaitsForInFlightTurn(t *testing.T) {
	st := store.NewMemoryStore()
	client := &gatedClient{entered: make(chan struct{}), proceed: make(chan struct{})}
	mgr := New(st, client, testOptions(), nil)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, session.New("U1", "desert ruins", "GM for '{game_theme}'")))

	turnDone := make(chan error, 1)
	go func() {
		_, err := mgr.SubmitTurn(ctx, "U1", "open the door")
		turnDone <- err
	}()
	<-client.entered

	type clearResult struct {
		count int
		err   error
	}
	clearDone := make(chan clearResult, 1)
	go func() {
		count, err := mgr.ClearAll(ctx, true)
		clearDone <- clearResult{count, err}
	}()

	// The clear must contend on U1's lock while the turn is mid-provider
	select {
	case <-clearDone:
		t.Fatal("clear completed while a turn held the owner lock")
	case <-time.After(20 * time.Millisecond):
	}

	close(client.proceed)
	require.NoError(t, <-turnDone)

	res := <-clearDone
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.count)

	// The completed turn's save must not survive the clear
	_, err := st.Get(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_PauseIdle(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)

	// Not idle yet: no transition
	paused, err := mgr.PauseIdle(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.False(t, paused)

	// Backdate activity past the threshold
	sess, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	sess.LastActiveAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, st.Put(ctx, sess))

	paused, err = mgr.PauseIdle(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.True(t, paused)

	got, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, session.StatePaused, got.State)
	assert.Equal(t, session.PauseIdle, got.PausedReason)

	// Already paused: idempotent no-op
	paused, err = mgr.PauseIdle(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.False(t, paused)

	// Unknown owners are not an error
	paused, err = mgr.PauseIdle(ctx, "ghost", time.Hour)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestManager_Autosave(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	before, err := st.Get(ctx, "U1")
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, mgr.Autosave(ctx, "U1"))

	after, err := st.Get(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, after.LastSavedAt.After(before.LastSavedAt))
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Turns, after.Turns)

	require.NoError(t, mgr.Autosave(ctx, "ghost"))
}

func TestManager_PurgeExpired(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)

	// Fresh sessions survive the purge check
	purged, err := mgr.PurgeExpired(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.False(t, purged)

	st.SetLastSaved("U1", time.Now().UTC().Add(-2*time.Hour))

	purged, err = mgr.PurgeExpired(ctx, "U1", time.Hour)
	require.NoError(t, err)
	assert.True(t, purged)

	_, err = mgr.GetStatus(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_StorageFailureFailsOnlyThatOperation(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	st.FailNextPut = errors.New("disk full")
	_, err := mgr.Start(ctx, "U1", "desert ruins")
	var storageErr *store.StorageError
	require.True(t, errors.As(err, &storageErr))

	// The manager keeps serving afterward
	_, err = mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
}

func TestManager_PauseAll(t *testing.T) {
	mgr, st, _ := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "U1", "desert ruins")
	require.NoError(t, err)
	_, err = mgr.Start(ctx, "U2", "space station")
	require.NoError(t, err)
	_, err = mgr.Pause(ctx, "U2")
	require.NoError(t, err)

	mgr.PauseAll(ctx)

	for _, owner := range []string{"U1", "U2"} {
		sess, err := st.Get(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, session.StatePaused, sess.State, owner)
	}
}
