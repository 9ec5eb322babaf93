// ABOUTME: Background supervisor driving idle pause, auto-save, and retention purge
// ABOUTME: Each tick enumerates sessions and acts per owner under the same locks as commands

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/adventure-gateway/internal/manager"
	"github.com/2389/adventure-gateway/internal/store"
)

// Options configures the supervisor's cadence and thresholds.
type Options struct {
	Interval         time.Duration // tick interval
	IdleTimeout      time.Duration // active sessions idle past this are paused
	AutosaveInterval time.Duration // sessions saved longer ago than this are re-persisted
	Retention        time.Duration // sessions saved longer ago than this are deleted
}

// Supervisor monitors sessions on a fixed interval. Enumeration happens
// against the store; every action goes through the manager so it contends
// on the same per-owner locks as foreground commands. No lock is held
// across a whole tick, only per session.
type Supervisor struct {
	mgr    *manager.Manager
	store  store.Store
	opts   Options
	logger *slog.Logger
}

// New creates a Supervisor.
func New(mgr *manager.Manager, st store.Store, opts Options, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		mgr:    mgr,
		store:  st,
		opts:   opts,
		logger: logger.With("component", "supervisor"),
	}
}

// Run ticks until ctx is cancelled. It never returns a session-level error;
// those are logged and the loop continues.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("supervisor started",
		"interval", s.opts.Interval,
		"idle_timeout", s.opts.IdleTimeout,
		"autosave_interval", s.opts.AutosaveInterval,
		"retention", s.opts.Retention,
	)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return ctx.Err()
		}
	}
}

// Tick runs the three maintenance phases once. Purge goes first: a session
// past the retention window must leave the cache, not have its save
// timestamp refreshed by the autosave phase. A failure on one session never
// aborts the rest of the tick.
func (s *Supervisor) Tick(ctx context.Context) {
	s.purge(ctx)
	s.pauseIdle(ctx)
	s.autosave(ctx)
}

// pauseIdle applies the idle-timeout transition to active sessions whose
// last activity exceeds the threshold.
func (s *Supervisor) pauseIdle(ctx context.Context) {
	owners, err := s.store.ListIdle(ctx, s.opts.IdleTimeout)
	if err != nil {
		s.logger.Error("listing idle sessions", "error", err)
		return
	}
	for _, owner := range owners {
		paused, err := s.mgr.PauseIdle(ctx, owner, s.opts.IdleTimeout)
		if err != nil {
			s.logger.Error("idle pause failed", "owner", owner, "error", err)
			continue
		}
		if paused {
			s.logger.Debug("idle session paused", "owner", owner)
		}
	}
}

// autosave re-persists sessions whose last save is older than the
// auto-save interval, bounding data loss on crash.
func (s *Supervisor) autosave(ctx context.Context) {
	owners, err := s.store.ListStale(ctx, s.opts.AutosaveInterval)
	if err != nil {
		s.logger.Error("listing stale sessions", "error", err)
		return
	}
	for _, owner := range owners {
		if err := s.mgr.Autosave(ctx, owner); err != nil {
			s.logger.Error("autosave failed", "owner", owner, "error", err)
		}
	}
}

// purge permanently deletes sessions older than the retention window.
func (s *Supervisor) purge(ctx context.Context) {
	for owner, err := range s.store.ListExpired(ctx, s.opts.Retention) {
		if err != nil {
			s.logger.Error("listing expired sessions", "error", err)
			return
		}
		purged, err := s.mgr.PurgeExpired(ctx, owner, s.opts.Retention)
		if err != nil {
			s.logger.Error("purge failed", "owner", owner, "error", err)
			continue
		}
		if purged {
			s.logger.Info("session purged after retention window", "owner", owner)
		}
	}
}
