// Package session defines the adventure session record and its state machine.
//
// A session exists in one of three lifecycle states: none (no record),
// active, and paused. Only the transitions defined here are legal:
//
//	none   --start-->  active
//	active --turn-->   active  (append to transcript)
//	active --pause-->  paused  (explicit or idle timeout)
//	paused --resume--> active
//	any    --delete--> none
//
// Illegal events return InvalidTransitionError naming the current state and
// the attempted event; they never silently no-op. The transcript is only
// ever appended to while active.
//
// The package also provides KeyedLocks, the per-owner mutex map that both
// foreground commands and the background supervisor acquire before touching
// a session, so no two operations for one owner can interleave.
package session
