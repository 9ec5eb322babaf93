// ABOUTME: Matrix frontend for adventure-gateway
// ABOUTME: Routes room commands and player actions to the session manager

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/adventure-gateway/internal/config"
	"github.com/2389/adventure-gateway/internal/dedupe"
	"github.com/2389/adventure-gateway/internal/manager"
	"github.com/2389/adventure-gateway/internal/session"
	"github.com/2389/adventure-gateway/internal/store"
)

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout is the timeout for short Matrix API calls.
const networkTimeout = 10 * time.Second

// sendTimeout is the timeout for sending messages (they can be large).
const sendTimeout = 30 * time.Second

// dedupeTTL is how long event IDs are remembered to absorb sync replays.
const dedupeTTL = 5 * time.Minute

// dedupeMaxSize caps the seen-cache so a sync flood cannot grow it unbounded.
const dedupeMaxSize = 100_000

// Bridge connects Matrix rooms to the session manager.
type Bridge struct {
	cfg    config.MatrixConfig
	matrix *mautrix.Client
	mgr    *manager.Manager
	logger *slog.Logger

	idleTimeout time.Duration

	// seen absorbs replayed sync events
	seen *dedupe.Cache

	// processing tracks owners with an in-flight operation so a flood of
	// messages from one player doesn't queue behind a slow provider call
	processing sync.Map

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a Matrix bridge.
func NewBridge(cfg config.MatrixConfig, idleTimeout time.Duration, mgr *manager.Manager, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		cfg:         cfg,
		matrix:      client,
		mgr:         mgr,
		logger:      logger.With("component", "matrix"),
		idleTimeout: idleTimeout,
		seen:        dedupe.New(dedupeTTL, dedupeMaxSize),
	}, nil
}

// Run starts the bridge and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix frontend",
		"homeserver", b.cfg.Homeserver,
		"user_id", b.cfg.UserID,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	defer b.seen.Close()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix frontend running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix frontend")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent processes incoming Matrix messages.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(b.cfg.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	if content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID
	if !b.isRoomAllowed(roomID.String()) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID.String())
		return
	}

	// Sync replays must not re-run session operations
	if b.seen.CheckAndMark(evt.ID.String()) {
		return
	}

	owner := evt.Sender.String()
	body := strings.TrimSpace(content.Body)

	if cmd, ok := parseCommand(b.cfg.CommandPrefix, body); ok {
		go b.runCommand(b.ctx, roomID, owner, cmd)
		return
	}

	// Plain text is a player action only while that player is active;
	// everything else in the room is none of our business.
	if strings.HasPrefix(body, b.cfg.CommandPrefix) {
		return
	}
	go b.runAction(b.ctx, roomID, owner, body)
}

// runCommand dispatches one parsed command to the manager and replies.
func (b *Bridge) runCommand(ctx context.Context, roomID id.RoomID, owner string, cmd command) {
	if _, loaded := b.processing.LoadOrStore(owner, true); loaded {
		b.logger.Debug("operation already in flight for owner, dropping", "owner", owner)
		return
	}
	defer b.processing.Delete(owner)

	b.logger.Info("command received", "owner", owner, "command", cmd.Name)

	switch cmd.Name {
	case "start":
		if b.cfg.TypingIndicator {
			b.setTyping(roomID, true)
			defer b.setTyping(roomID, false)
		}
		res, err := b.mgr.Start(ctx, owner, cmd.Arg)
		if errors.Is(err, session.ErrAlreadyExists) {
			// Show the existing game instead of a bare rejection
			if st, stErr := b.mgr.GetStatus(ctx, owner); stErr == nil {
				b.sendMarkdown(roomID, renderError(err, b.cfg.CommandPrefix)+"\n\n"+renderStatus(st))
				return
			}
			b.replyError(roomID, owner, err)
			return
		}
		if err != nil {
			b.replyError(roomID, owner, err)
			return
		}
		b.sendMarkdown(roomID, renderIntro(res.Theme, b.idleTimeout)+"\n\n"+renderTurn(res))

	case "pause":
		st, err := b.mgr.Pause(ctx, owner)
		if err != nil {
			b.replyError(roomID, owner, err)
			return
		}
		b.sendMarkdown(roomID, renderPausedAck(st))

	case "resume":
		res, err := b.mgr.Resume(ctx, owner)
		if err != nil {
			b.replyError(roomID, owner, err)
			return
		}
		b.sendMarkdown(roomID, renderResumed(res))

	case "status":
		st, err := b.mgr.GetStatus(ctx, owner)
		if err != nil {
			b.replyError(roomID, owner, err)
			return
		}
		b.sendMarkdown(roomID, renderStatus(st))

	case "delete":
		if err := b.mgr.Delete(ctx, owner); err != nil {
			b.replyError(roomID, owner, err)
			return
		}
		b.sendMarkdown(roomID, "🗑️ **Adventure deleted.** Use `"+b.cfg.CommandPrefix+"start` for a fresh one.")

	case "help":
		b.sendMarkdown(roomID, renderHelp(b.cfg.CommandPrefix))

	case "clearall":
		count, err := b.mgr.ClearAll(ctx, b.isAdmin(owner))
		if err != nil {
			b.replyError(roomID, owner, err)
			return
		}
		b.sendMarkdown(roomID, fmt.Sprintf("🧹 Cleared **%d** adventure(s).", count))
	}
}

// runAction treats a plain message as the active player's next move.
func (b *Bridge) runAction(ctx context.Context, roomID id.RoomID, owner, input string) {
	// Guard first: a sender already mid-operation costs no store read
	if _, loaded := b.processing.LoadOrStore(owner, true); loaded {
		b.logger.Debug("operation already in flight for owner, dropping", "owner", owner)
		return
	}
	defer b.processing.Delete(owner)

	// Only players with an active session get their plain text interpreted.
	st, err := b.mgr.GetStatus(ctx, owner)
	if err != nil || st.State != session.StateActive {
		return
	}

	if input == "" {
		b.sendMarkdown(roomID, emptyActionReply)
		return
	}

	if b.cfg.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	res, err := b.mgr.SubmitTurn(ctx, owner, input)
	if err != nil {
		b.replyError(roomID, owner, err)
		return
	}
	b.sendMarkdown(roomID, renderTurn(res))
}

// replyError renders an operation error into a corrective room message.
func (b *Bridge) replyError(roomID id.RoomID, owner string, err error) {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		b.logger.Error("storage failure", "owner", owner, "error", err)
	} else {
		b.logger.Debug("operation rejected", "owner", owner, "error", err)
	}
	b.sendMarkdown(roomID, renderError(err, b.cfg.CommandPrefix))
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.cfg.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	for _, allowed := range b.cfg.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// isAdmin reports whether the sender is in the configured admin list.
func (b *Bridge) isAdmin(owner string) bool {
	for _, admin := range b.cfg.Admins {
		if admin == owner {
			return true
		}
	}
	return false
}

// setTyping sends a typing indicator to the room.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.matrix.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMarkdown sends markdown text with an HTML-formatted body so the
// narrative renders nicely in Matrix clients.
func (b *Bridge) sendMarkdown(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, err := renderMarkdown(text); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	if _, err := b.matrix.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// renderMarkdown converts markdown to HTML for Matrix formatted bodies.
func renderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
