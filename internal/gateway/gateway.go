// ABOUTME: Gateway orchestrator wiring store, provider, manager, supervisor, and frontends
// ABOUTME: Owns startup order and graceful shutdown of the whole service

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/adventure-gateway/internal/config"
	"github.com/2389/adventure-gateway/internal/llm"
	"github.com/2389/adventure-gateway/internal/manager"
	"github.com/2389/adventure-gateway/internal/matrix"
	"github.com/2389/adventure-gateway/internal/store"
	"github.com/2389/adventure-gateway/internal/supervisor"
)

// shutdownTimeout bounds the final pause-and-persist sweep.
const shutdownTimeout = 30 * time.Second

// Gateway orchestrates the adventure-gateway server components.
type Gateway struct {
	cfg    *config.Config
	store  store.Store
	mgr    *manager.Manager
	sup    *supervisor.Supervisor
	bridge *matrix.Bridge
	logger *slog.Logger
}

// New builds a gateway from config: durable store, provider client, session
// manager, timeout supervisor, and any enabled frontends.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	client := llm.NewClient(llm.Provider(cfg.LLM.Provider), cfg.LLM.APIKey, cfg.LLM.BaseURL)

	mgr := manager.New(st, client, manager.Options{
		DefaultTheme:   cfg.Adventure.DefaultTheme,
		PromptTemplate: cfg.Adventure.SystemPromptTemplate,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		RequestTimeout: cfg.LLM.RequestTimeout,
	}, logger)

	sup := supervisor.New(mgr, st, supervisor.Options{
		Interval:         cfg.Adventure.SweepInterval,
		IdleTimeout:      cfg.Adventure.IdleTimeout,
		AutosaveInterval: cfg.Adventure.AutoSaveInterval,
		Retention:        cfg.Adventure.Retention(),
	}, logger)

	g := &Gateway{
		cfg:    cfg,
		store:  st,
		mgr:    mgr,
		sup:    sup,
		logger: logger.With("component", "gateway"),
	}

	if cfg.Frontends.Matrix.Enabled {
		bridge, err := matrix.NewBridge(cfg.Frontends.Matrix, cfg.Adventure.IdleTimeout, mgr, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("initializing matrix frontend: %w", err)
		}
		g.bridge = bridge
	}

	return g, nil
}

// Manager exposes the session manager for tooling built on the gateway.
func (g *Gateway) Manager() *manager.Manager { return g.mgr }

// Run starts the supervisor and frontends and blocks until ctx is
// cancelled, then performs a graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("adventure-gateway starting",
		"database", g.cfg.Database.Path,
		"provider", g.cfg.LLM.Provider,
		"model", g.cfg.LLM.Model,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := g.sup.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if g.bridge != nil {
		group.Go(func() error {
			return g.bridge.Run(groupCtx)
		})
	}

	err := group.Wait()
	g.shutdown()
	return err
}

// shutdown pauses and persists every active session so nothing in flight
// is lost, optionally wipes the cache, and closes the store.
func (g *Gateway) shutdown() {
	g.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g.mgr.PauseAll(ctx)

	if g.cfg.Adventure.DeleteOnShutdown {
		count, err := g.store.ClearAll(ctx)
		if err != nil {
			g.logger.Error("clearing cache on shutdown", "error", err)
		} else {
			g.logger.Info("cache cleared on shutdown", "count", count)
		}
	}

	if err := g.store.Close(); err != nil {
		g.logger.Error("closing store", "error", err)
	}
	g.logger.Info("shutdown complete")
}
