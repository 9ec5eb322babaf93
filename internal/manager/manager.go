// ABOUTME: Session Manager facade coordinating store, state machine, and provider
// ABOUTME: Every operation runs load -> transition -> (generate) -> persist under the owner lock

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/adventure-gateway/internal/llm"
	"github.com/2389/adventure-gateway/internal/session"
	"github.com/2389/adventure-gateway/internal/store"
)

// ErrPermissionDenied is returned for admin-only operations invoked without
// the admin flag.
var ErrPermissionDenied = errors.New("permission denied")

// GenerationError wraps a provider failure or timeout. The session is left
// in its pre-call state whenever one is returned.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// openingInput seeds the first scene of a new adventure.
const openingInput = "The story begins. Describe my opening scene."

// Options configures the manager.
type Options struct {
	DefaultTheme   string
	PromptTemplate string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration // per provider call; zero means no timeout
}

// TurnResult is returned by the operations that produce narrative text.
type TurnResult struct {
	Theme      string
	Narrative  string
	TurnNumber int
}

// Status is the read-only report for one owner's session.
type Status struct {
	State        session.State
	PausedReason session.PauseReason
	Theme        string
	TurnCount    int
	CreatedAt    time.Time
	LastActiveAt time.Time
	Age          time.Duration
}

// Manager is the only component external collaborators call. It checks
// sessions out of the store under a per-owner lock, applies state-machine
// transitions, and checks them back in on every mutating operation.
type Manager struct {
	store  store.Store
	llm    llm.Client
	locks  *session.KeyedLocks
	opts   Options
	logger *slog.Logger
}

// New creates a Manager.
func New(st store.Store, client llm.Client, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		llm:    client,
		locks:  session.NewKeyedLocks(),
		opts:   opts,
		logger: logger.With("component", "manager"),
	}
}

// Start creates a new adventure for ownerID and generates the opening
// scene. An empty theme uses the configured default. Returns
// session.ErrAlreadyExists if the owner already has a session in any state;
// the existing one must be deleted first.
func (m *Manager) Start(ctx context.Context, ownerID, theme string) (*TurnResult, error) {
	if theme == "" {
		theme = m.opts.DefaultTheme
	}

	release := m.locks.Acquire(ownerID)
	defer release()

	_, err := m.store.Get(ctx, ownerID)
	if err == nil {
		return nil, session.ErrAlreadyExists
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	sess := session.New(ownerID, theme, m.opts.PromptTemplate)

	narrative, err := m.generate(ctx, sess, openingInput)
	if err != nil {
		// Nothing was persisted; the owner is still in the none state.
		return nil, &GenerationError{Err: err}
	}
	sess.AppendTurn(openingInput, narrative)

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Info("adventure started", "owner", ownerID, "theme", theme)
	return &TurnResult{Theme: theme, Narrative: narrative, TurnNumber: sess.TurnCount}, nil
}

// SubmitTurn advances an active adventure with the player's input. The
// operation is all-or-nothing: a provider failure returns GenerationError
// with no transcript append and no state change.
func (m *Manager) SubmitTurn(ctx context.Context, ownerID, input string) (*TurnResult, error) {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := sess.BeginTurn(); err != nil {
		return nil, err
	}

	narrative, err := m.generate(ctx, sess, input)
	if err != nil {
		return nil, &GenerationError{Err: err}
	}
	sess.AppendTurn(input, narrative)

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Debug("turn completed", "owner", ownerID, "turn", sess.TurnCount)
	return &TurnResult{Theme: sess.Theme, Narrative: narrative, TurnNumber: sess.TurnCount}, nil
}

// Pause suspends an active adventure at the player's request.
func (m *Manager) Pause(ctx context.Context, ownerID string) (*Status, error) {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := sess.Pause(session.PauseExplicit); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Info("adventure paused", "owner", ownerID)
	return snapshot(sess), nil
}

// Resume reactivates a paused adventure and replays the latest scene so the
// player can pick up where they left off. The provider is not consulted.
func (m *Manager) Resume(ctx context.Context, ownerID string) (*TurnResult, error) {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := sess.Resume(); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, err
	}

	m.logger.Info("adventure resumed", "owner", ownerID)
	return &TurnResult{Theme: sess.Theme, Narrative: sess.LastReply(), TurnNumber: sess.TurnCount}, nil
}

// GetStatus reports the session's state without side effects. Repeated
// calls never change state, transcript, or save timestamps.
func (m *Manager) GetStatus(ctx context.Context, ownerID string) (*Status, error) {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return snapshot(sess), nil
}

// Delete removes the owner's adventure entirely. Returns store.ErrNotFound
// when there is nothing to delete.
func (m *Manager) Delete(ctx context.Context, ownerID string) error {
	release := m.locks.Acquire(ownerID)
	defer release()

	deleted, err := m.store.Delete(ctx, ownerID)
	if err != nil {
		return err
	}
	if !deleted {
		return store.ErrNotFound
	}

	m.logger.Info("adventure deleted", "owner", ownerID)
	return nil
}

// ClearAll removes every session. Admin-only: callers without the admin
// flag get ErrPermissionDenied and no session is touched. Each owner is
// deleted under its lock, so an in-flight turn finishes (and persists)
// before its session is removed rather than resurrecting it afterward.
func (m *Manager) ClearAll(ctx context.Context, admin bool) (int, error) {
	if !admin {
		return 0, ErrPermissionDenied
	}
	owners, err := m.store.ListOwners(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, owner := range owners {
		release := m.locks.Acquire(owner)
		deleted, err := m.store.Delete(ctx, owner)
		release()
		if err != nil {
			return cleared, err
		}
		if deleted {
			cleared++
		}
	}

	m.logger.Info("all adventures cleared", "count", cleared)
	return cleared, nil
}

// PauseIdle applies the idle-timeout transition to one owner if, re-checked
// under the owner lock, the session is still active and idle past threshold.
// Reports whether a pause happened.
func (m *Manager) PauseIdle(ctx context.Context, ownerID string, threshold time.Duration) (bool, error) {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.State != session.StateActive || sess.IdleFor(time.Now().UTC()) < threshold {
		return false, nil
	}
	if err := sess.Pause(session.PauseIdle); err != nil {
		return false, err
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return false, err
	}

	m.logger.Info("adventure auto-paused after idle timeout", "owner", ownerID)
	return true, nil
}

// Autosave re-persists one owner's session, refreshing its save timestamp
// without any state change. Missing sessions are not an error.
func (m *Manager) Autosave(ctx context.Context, ownerID string) error {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.store.Put(ctx, sess)
}

// PurgeExpired deletes one owner's session if, re-checked under the owner
// lock, its last save is older than maxAge. Reports whether it was removed.
func (m *Manager) PurgeExpired(ctx context.Context, ownerID string, maxAge time.Duration) (bool, error) {
	release := m.locks.Acquire(ownerID)
	defer release()

	sess, err := m.store.Get(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Now().UTC().Sub(sess.LastSavedAt) <= maxAge {
		return false, nil
	}
	deleted, err := m.store.Delete(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if deleted {
		m.logger.Info("expired adventure purged", "owner", ownerID)
	}
	return deleted, nil
}

// PauseAll suspends and persists every active session. Used during graceful
// shutdown so no in-progress adventure is lost. Per-owner failures are
// logged and the sweep continues.
func (m *Manager) PauseAll(ctx context.Context) {
	owners, err := m.store.ListActive(ctx)
	if err != nil {
		m.logger.Error("listing active sessions for shutdown", "error", err)
		return
	}
	for _, owner := range owners {
		if _, err := m.Pause(ctx, owner); err != nil {
			m.logger.Error("pausing session during shutdown", "owner", owner, "error", err)
		}
	}
}

// generate calls the provider with the session's transcript plus the new
// input, under the configured request timeout.
func (m *Manager) generate(ctx context.Context, sess *session.Session, input string) (string, error) {
	if m.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.RequestTimeout)
		defer cancel()
	}

	messages := make([]llm.Message, 0, 2*len(sess.Turns)+1)
	for _, t := range sess.Turns {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: t.Input},
			llm.Message{Role: llm.RoleAssistant, Content: t.Reply},
		)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})

	resp, err := m.llm.Chat(ctx, llm.ChatRequest{
		Model:     m.opts.Model,
		System:    sess.SystemPrompt,
		Messages:  messages,
		MaxTokens: m.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", errors.New("provider returned empty narrative")
	}
	return resp.Content, nil
}

func snapshot(sess *session.Session) *Status {
	now := time.Now().UTC()
	return &Status{
		State:        sess.State,
		PausedReason: sess.PausedReason,
		Theme:        sess.Theme,
		TurnCount:    sess.TurnCount,
		CreatedAt:    sess.CreatedAt,
		LastActiveAt: sess.LastActiveAt,
		Age:          sess.Age(now),
	}
}
