package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/btcguess/internal/notify"
	"github.com/alanyoungcy/btcguess/internal/reconcile"
	"github.com/alanyoungcy/btcguess/internal/server"
	"github.com/alanyoungcy/btcguess/internal/server/handler"
	"github.com/alanyoungcy/btcguess/internal/server/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the settlement endpoint, the change-record endpoint and
// the websocket relays. It also runs the notification watcher.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// ReconcileMode only runs the overdue-guess sweep.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startReconciler(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every enabled subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Reconcile.Enabled {
		a.startReconciler(ctx, g, deps)
	}
	a.startWatcher(ctx, g, deps)

	// Keep the group alive until shutdown even when every subsystem is off.
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.PriceFeed, deps.GuessFeed, a.cfg.Server.CORSOrigins, a.root)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Limiter:     deps.Limiter,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.root),
		Settlements: handler.NewSettlementHandler(deps.Executor, a.root),
		Schedules:   handler.NewScheduleHandler(deps.Registrar, a.root),
		Gatherer:    deps.Registry,
	}, hub, a.root)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	r := reconcile.New(deps.Guesses, deps.Executor, reconcile.Config{
		Schedule:     a.cfg.Reconcile.Cron,
		OverdueAfter: a.cfg.Reconcile.OverdueAfter.Duration,
		BatchSize:    a.cfg.Reconcile.BatchSize,
	}, a.root)
	g.Go(func() error {
		if err := r.Run(ctx); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		return nil
	})
}

// startWatcher needs both the settlement bus and at least one sender.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Bus == nil || deps.Notifier == nil || !deps.Notifier.Enabled() {
		a.logger.InfoContext(ctx, "settlement notifications disabled")
		return
	}
	w := notify.NewWatcher(deps.Bus, deps.Notifier, a.root)
	g.Go(func() error {
		err := w.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.ErrorContext(ctx, "notification watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})
}
