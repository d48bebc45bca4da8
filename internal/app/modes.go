package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/pipeline"
	"github.com/alanyoungcy/wagerengine/internal/server"
	"github.com/alanyoungcy/wagerengine/internal/server/handler"
	"github.com/alanyoungcy/wagerengine/internal/server/ws"
)

// ServerMode serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return wait(g)
}

// WorkerMode runs the background jobs and notifications without the API.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	if err := a.startPipeline(ctx, g, deps); err != nil {
		return fmt.Errorf("worker mode: %w", err)
	}
	a.startNotifier(ctx, g, deps)
	return wait(g)
}

// FullMode runs every subsystem in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEngine(ctx, g, deps)
	if err := a.startPipeline(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startNotifier(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return wait(g)
}

// wait treats cancellation as a clean stop.
func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startEngine runs the enclave and the delegation coordinator.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Enclave.Run(ctx) })
	g.Go(func() error { return deps.Engine.Run(ctx) })
}

func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	g.Go(func() error { return deps.Notifier.Run(ctx, deps.Bus) })
}

// startPipeline adds the orchestrator when the pipeline is enabled. The
// archiver needs S3 and the calculator needs a keeper key; a missing piece
// only disables its job.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if !a.cfg.Pipeline.Enabled {
		a.logger.InfoContext(ctx, "pipeline disabled")
		return nil
	}

	var archiver, calculator pipeline.Job
	if deps.Archive != nil {
		archiver = pipeline.NewSettlementArchiver(deps.Engine, deps.Archive, a.logger)
	} else {
		a.logger.WarnContext(ctx, "pipeline: s3 disabled, settlement archiving off")
	}

	if a.cfg.Keeper.Configured() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Keeper.PrivateKey,
			EncryptedKeyPath: a.cfg.Keeper.EncryptedKeyPath,
			KeyPassword:      a.cfg.Keeper.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("load keeper key: %w", err)
		}
		signer, err := crypto.NewSigner(key)
		if err != nil {
			return fmt.Errorf("keeper signer: %w", err)
		}
		calculator = pipeline.NewOverdueCalculator(deps.Engine, deps.Engine, signer.Address(),
			a.cfg.Protocol.BatchGrace.Duration, a.logger)
	} else {
		a.logger.WarnContext(ctx, "pipeline: no keeper key, overdue batch calculation off")
	}

	if archiver == nil && calculator == nil {
		return nil
	}
	orch := pipeline.NewOrchestrator(archiver, calculator,
		a.cfg.Pipeline.ArchiveInterval.Duration, a.cfg.Pipeline.SettleInterval.Duration, a.logger)
	g.Go(func() error { return orch.Run(ctx) })
	return nil
}

// startHTTPServer adds the API server, the WebSocket hub and a shutdown
// watcher to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	var archive handler.ArchiveStore
	if deps.Archive != nil {
		archive = deps.Archive
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		ClockSkew:   a.cfg.Protocol.ClockSkew.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Protocol: handler.NewProtocolHandler(deps.Engine, a.logger),
		Markets:  handler.NewMarketHandler(deps.Engine, archive, a.logger),
		Bets:     handler.NewBetHandler(deps.Engine, a.cfg.Delegation.AwaitTimeout.Duration, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})
}
