// Package app wires the wager engine together and runs it in the configured
// mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/wagerengine/internal/config"
)

// modeFunc blocks until ctx ends or a component fails.
type modeFunc func(a *App, ctx context.Context, deps *Dependencies) error

// modes maps a configured mode to its runner:
//
//	server  engine + HTTP/WebSocket API
//	worker  engine + settlement pipeline + notifier
//	full    both, with the API only when server.enabled
var modes = map[string]modeFunc{
	"server": (*App).ServerMode,
	"worker": (*App).WorkerMode,
	"full":   (*App).FullMode,
}

// App runs one configured mode and releases what Wire opened on Close.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	cleanup   func()
	closeOnce sync.Once
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies and blocks in the selected mode until ctx is
// cancelled. An unknown mode fails before anything is opened.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("store", a.cfg.Store),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup
	return run(a, ctx, deps)
}

// Close releases the wired dependencies once; later calls do nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.cleanup != nil {
			a.logger.Info("shutting down application")
			a.cleanup()
		}
	})
}
