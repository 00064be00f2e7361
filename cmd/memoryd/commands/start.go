package commands

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/memoryd/internal/config"
	"git.home.luguber.info/inful/memoryd/internal/daemon"
	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
)

// StartCmd implements the 'start' command.
type StartCmd struct {
	DataDir string `short:"d" help:"Override data_dir from the configuration"`
}

func (s *StartCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	if s.DataDir != "" {
		cfg.DataDir = s.DataDir
		cfg.PIDFile = ""
		if err := cfg.ResolvePaths(); err != nil {
			return err
		}
	}
	return RunDaemon(context.Background(), g, root, cfg)
}

// RunDaemon starts the daemon in the foreground and blocks until it has shut
// down. A startup failure is returned as a startup-category error.
func RunDaemon(ctx context.Context, g *Global, root *CLI, cfg *config.Config) error {
	d, err := daemon.New(cfg, daemon.WithConfigPath(root.Config))
	if err != nil {
		return err
	}
	if err := d.Store().EnsureDirectories(); err != nil {
		return derrors.StartupFailed("directories", err)
	}
	closer := root.setupDaemonLogging(g, cfg, d.Store().LogsDir())
	defer func() { _ = closer.Close() }()

	if err := d.Run(ctx); err != nil {
		return err
	}
	slog.Info("Daemon exited cleanly", logfields.Category(logfields.CatDaemon))
	return nil
}
