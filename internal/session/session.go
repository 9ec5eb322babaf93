// ABOUTME: Session record and state machine for text-adventure sessions
// ABOUTME: Defines states, legal transitions, and the errors illegal events produce

package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session. A session with no durable
// record is in the implicit "none" state; only existing records carry one
// of the states below.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
)

// PauseReason records how a session came to be paused.
type PauseReason string

const (
	PauseExplicit PauseReason = "explicit" // user asked for the pause
	PauseIdle     PauseReason = "idle"     // idle timeout tripped it
)

// ErrAlreadyExists is returned when starting a session for an owner that
// already has one.
var ErrAlreadyExists = errors.New("session already exists")

// InvalidTransitionError reports an event that is illegal in the session's
// current state. It never silently no-ops.
type InvalidTransitionError struct {
	State State
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %q is not valid in state %q", e.Event, e.State)
}

// themePlaceholder is the substitution point in the system prompt template.
const themePlaceholder = "{game_theme}"

// fallbackPromptFormat is used when the configured template lacks the
// placeholder, mirroring the degraded prompt the original plugin fell back to.
const fallbackPromptFormat = "You are the game master of a text adventure set in '%s'. " +
	"Narrate vivid, coherent scenes in response to the player's actions."

// Turn is one player-input/narrative-reply exchange.
type Turn struct {
	ID    string    `json:"id"`
	Input string    `json:"input"`
	Reply string    `json:"reply"`
	At    time.Time `json:"at"`
}

// Session is the durable record of one owner's adventure. Fields are
// JSON-tagged for persistence; decoding tolerates unknown fields so the
// retention policy can evolve independently of stored content.
type Session struct {
	OwnerID      string      `json:"owner_id"`
	State        State       `json:"state"`
	PausedReason PauseReason `json:"paused_reason,omitempty"`
	Theme        string      `json:"theme"`
	SystemPrompt string      `json:"system_prompt"`
	Turns        []Turn      `json:"turns"`
	TurnCount    int         `json:"turn_count"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActiveAt time.Time   `json:"last_active_at"`
	LastSavedAt  time.Time   `json:"last_saved_at"`
}

// New creates an active session for owner with the system prompt template
// resolved against theme. A template missing the {game_theme} placeholder
// falls back to a built-in prompt rather than failing the start.
func New(ownerID, theme, promptTemplate string) *Session {
	now := time.Now().UTC()
	return &Session{
		OwnerID:      ownerID,
		State:        StateActive,
		Theme:        theme,
		SystemPrompt: ResolvePrompt(promptTemplate, theme),
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// ResolvePrompt substitutes theme into the template's {game_theme}
// placeholder, or returns the fallback prompt when the placeholder is absent.
func ResolvePrompt(template, theme string) string {
	if !strings.Contains(template, themePlaceholder) {
		return fmt.Sprintf(fallbackPromptFormat, theme)
	}
	return strings.ReplaceAll(template, themePlaceholder, theme)
}

// Pause transitions active -> paused, recording why.
func (s *Session) Pause(reason PauseReason) error {
	if s.State != StateActive {
		return &InvalidTransitionError{State: s.State, Event: "pause"}
	}
	s.State = StatePaused
	s.PausedReason = reason
	return nil
}

// Resume transitions paused -> active and restarts the idle clock.
func (s *Session) Resume() error {
	if s.State != StatePaused {
		return &InvalidTransitionError{State: s.State, Event: "resume"}
	}
	s.State = StateActive
	s.PausedReason = ""
	s.LastActiveAt = time.Now().UTC()
	return nil
}

// BeginTurn checks that a turn is legal in the current state. The transcript
// is only ever appended to while active.
func (s *Session) BeginTurn() error {
	if s.State != StateActive {
		return &InvalidTransitionError{State: s.State, Event: "turn"}
	}
	return nil
}

// AppendTurn records one exchange and resets the idle clock. Callers must
// have passed BeginTurn; this keeps the guard and the mutation separable so
// the provider call can sit between them without holding a half-written turn.
func (s *Session) AppendTurn(input, reply string) *Turn {
	turn := Turn{
		ID:    uuid.New().String(),
		Input: input,
		Reply: reply,
		At:    time.Now().UTC(),
	}
	s.Turns = append(s.Turns, turn)
	s.TurnCount++
	s.LastActiveAt = turn.At
	return &s.Turns[len(s.Turns)-1]
}

// LastReply returns the most recent narrative reply, or "" for a session
// with no turns yet.
func (s *Session) LastReply() string {
	if len(s.Turns) == 0 {
		return ""
	}
	return s.Turns[len(s.Turns)-1].Reply
}

// IdleFor reports how long the session has gone without player activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActiveAt)
}

// Age reports time elapsed since the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing the transcript slice.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	return &c
}
