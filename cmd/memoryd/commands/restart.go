package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/memoryd/internal/daemon"
)

// RestartCmd implements the 'restart' command.
type RestartCmd struct {
	Wait time.Duration `help:"Maximum time to wait for the running daemon to exit" default:"2s"`
}

func (r *RestartCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	store := storeFor(cfg)

	pid, err := daemon.Stop(store)
	switch {
	case err == nil:
		_, _ = fmt.Fprintf(g.out(), "Sent SIGTERM to memoryd (PID %d)\n", pid)
		ctx, cancel := context.WithTimeout(context.Background(), r.Wait)
		err = daemon.WaitForExit(ctx, store, 100*time.Millisecond)
		cancel()
		if err != nil {
			return err
		}
	case isNotRunning(err):
		_, _ = fmt.Fprintln(g.out(), "memoryd is not running, starting")
	default:
		return err
	}

	return RunDaemon(context.Background(), g, root, cfg)
}
