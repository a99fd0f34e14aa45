// Package app provides top-level application lifecycle management for the
// auction service. It wires together stores, caches, external collaborators,
// the engine, and the API surface, and runs them until shutdown.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/superpull/auctiond/internal/config"
	"github.com/superpull/auctiond/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the API
// server, WebSocket hub, notifier feed, and archiver, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting auctiond",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("port", a.cfg.Server.Port),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Server.Start()
	})

	g.Go(func() error {
		// Shut the HTTP server down when the group context ends.
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return deps.Server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := deps.Hub.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.runNotifierFeed(gctx, deps)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			err := deps.Archiver.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// runNotifierFeed forwards the live event feed to the operator notifier.
// Delivery failures are logged and skipped; a broken Telegram webhook must
// not take the service down.
func (a *App) runNotifierFeed(ctx context.Context, deps *Dependencies) error {
	msgCh, err := deps.EventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("app: notifier subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgCh:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				a.logger.WarnContext(ctx, "malformed event on notifier feed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := deps.Notifier.HandleEvent(ctx, ev); err != nil {
				a.logger.WarnContext(ctx, "notification delivery failed",
					slog.String("event", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down auctiond")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
