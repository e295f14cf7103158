// Package app provides the top-level application lifecycle for the bet
// exchange. It wires together stores, caches, blob storage, the ledger
// client, services and notifications, and runs the configured mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/johndpope/erc20bet/internal/config"
)

// Options carries the command-line inputs that are not part of the config
// file.
type Options struct {
	// EventsPath is the JSON event log read in reconstruct mode. "-" reads
	// standard input.
	EventsPath string
	// RandomNumber overrides the oracle result found in the event log.
	RandomNumber string
	// Out receives the reconstruct report. Defaults to standard output.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	base    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{
		cfg:    cfg,
		opts:   opts,
		base:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run selects the operating mode and blocks until it finishes or ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		deps, cleanup, err := Wire(ctx, a.cfg, a.base)
		if err != nil {
			return fmt.Errorf("app: wire dependencies: %w", err)
		}
		a.closers = append(a.closers, cleanup)
		return a.ServerMode(ctx, deps)
	case "reconstruct":
		return a.ReconstructMode(ctx)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
