// ABOUTME: Command parsing and reply rendering for the Matrix frontend
// ABOUTME: Maps chat commands to session manager operations and errors to player-facing text

package matrix

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/adventure-gateway/internal/manager"
	"github.com/2389/adventure-gateway/internal/session"
	"github.com/2389/adventure-gateway/internal/store"
)

// command is one parsed chat command.
type command struct {
	Name string // start, pause, resume, status, delete, help, clearall
	Arg  string // free-text argument (theme for start)
}

// knownCommands maps command words, including aliases, to canonical names.
var knownCommands = map[string]string{
	"start":     "start",
	"adventure": "start",
	"pause":     "pause",
	"resume":    "resume",
	"continue":  "resume",
	"status":    "status",
	"delete":    "delete",
	"quit":      "delete",
	"help":      "help",
	"clearall":  "clearall",
}

// parseCommand splits a prefixed message body into a command and its
// argument. Returns false when the body is not a recognized command.
func parseCommand(prefix, body string) (command, bool) {
	if !strings.HasPrefix(body, prefix) {
		return command{}, false
	}
	body = strings.TrimSpace(strings.TrimPrefix(body, prefix))
	if body == "" {
		return command{}, false
	}

	word, arg, _ := strings.Cut(body, " ")
	name, ok := knownCommands[strings.ToLower(word)]
	if !ok {
		return command{}, false
	}
	return command{Name: name, Arg: strings.TrimSpace(arg)}, true
}

// renderIntro is the start-of-adventure banner.
func renderIntro(theme string, idleTimeout time.Duration) string {
	return fmt.Sprintf(
		"🏰 **Adventure started!**\n\n"+
			"**Theme**: %s\n"+
			"Your game auto-pauses after %s of inactivity.\n"+
			"Type your actions directly to play; other messages in this room are untouched once you pause.",
		theme, idleTimeout)
}

// renderTurn frames one narrative reply.
func renderTurn(res *manager.TurnResult) string {
	return fmt.Sprintf("📖 **Turn %d**\n\n%s", res.TurnNumber, res.Narrative)
}

// renderResumed frames the replayed scene after a resume.
func renderResumed(res *manager.TurnResult) string {
	return fmt.Sprintf(
		"▶️ **Adventure resumed** (%s, turn %d)\n\n**Where you left off:**\n\n%s",
		res.Theme, res.TurnNumber, res.Narrative)
}

// renderPausedAck confirms an explicit pause.
func renderPausedAck(st *manager.Status) string {
	return fmt.Sprintf(
		"⏸️ **Adventure paused** (%s, turn %d). Use `resume` to continue whenever you like.",
		st.Theme, st.TurnCount)
}

// renderStatus describes the session's current state.
func renderStatus(st *manager.Status) string {
	switch st.State {
	case session.StatePaused:
		reason := "at your request"
		if st.PausedReason == session.PauseIdle {
			reason = "after the idle timeout"
		}
		return fmt.Sprintf(
			"⏸️ **Paused adventure** (%s)\nTheme: %s\nTurns: %d\nStarted: %s\nUse `resume` to continue.",
			reason, st.Theme, st.TurnCount, st.CreatedAt.Format("2006-01-02 15:04"))
	default:
		return fmt.Sprintf(
			"🎮 **Active adventure**\nTheme: %s\nTurns: %d\nStarted: %s\nLast action: %s",
			st.Theme, st.TurnCount,
			st.CreatedAt.Format("2006-01-02 15:04"),
			st.LastActiveAt.Format("2006-01-02 15:04"))
	}
}

// renderHelp lists the available commands.
func renderHelp(prefix string) string {
	return fmt.Sprintf(
		"🏰 **Text adventure commands**\n\n"+
			"• `%[1]sstart [theme]` — begin a new adventure\n"+
			"• `%[1]spause` — pause the current game\n"+
			"• `%[1]sresume` — pick up a paused game\n"+
			"• `%[1]sstatus` — show your game's state\n"+
			"• `%[1]sdelete` — erase your adventure\n\n"+
			"While active, just type your actions — no prefix needed. "+
			"Games auto-save and auto-pause, so nothing is lost if you step away.",
		prefix)
}

// emptyActionReply answers an empty action without a provider call.
const emptyActionReply = "You stand still, doing nothing. Type an action to continue your adventure."

// renderError maps an operation error to a single corrective message.
// Storage details are never leaked to the room.
func renderError(err error, prefix string) string {
	var invalid *session.InvalidTransitionError
	var generation *manager.GenerationError

	switch {
	case errors.Is(err, session.ErrAlreadyExists):
		return fmt.Sprintf(
			"🎮 You already have an adventure. Check `%[1]sstatus`, or `%[1]sdelete` it to start fresh.",
			prefix)
	case errors.As(err, &invalid):
		if invalid.State == session.StatePaused {
			return fmt.Sprintf("⏸️ Your adventure is paused. Use `%sresume` to continue.", prefix)
		}
		return fmt.Sprintf("🎮 Your adventure is already %s.", invalid.State)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("❌ You have no adventure yet. Use `%sstart [theme]` to begin one.", prefix)
	case errors.As(err, &generation):
		return "🎲 The storyteller stumbled — nothing was lost. Please try that again."
	case errors.Is(err, manager.ErrPermissionDenied):
		return "🚫 That command is admin-only."
	default:
		return "❌ Something went wrong on our side. Your adventure is safe; please try again."
	}
}
