package commands

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/memoryd/internal/daemon"
	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

// StopCmd implements the 'stop' command.
type StopCmd struct {
	Wait time.Duration `help:"Wait up to this long for the daemon to exit (0 returns immediately)" default:"0s"`
}

func (s *StopCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	store := storeFor(cfg)

	pid, err := daemon.Stop(store)
	if err != nil {
		if isNotRunning(err) {
			_, _ = fmt.Fprintln(g.out(), "memoryd is not running")
			return nil
		}
		return err
	}
	_, _ = fmt.Fprintf(g.out(), "Sent SIGTERM to memoryd (PID %d)\n", pid)

	if s.Wait <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Wait)
	defer cancel()
	if err := daemon.WaitForExit(ctx, store, 100*time.Millisecond); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.out(), "memoryd stopped")
	return nil
}

// isNotRunning matches the error daemon.Stop returns when there is no live
// daemon to signal.
func isNotRunning(err error) bool {
	ce, ok := derrors.As(err)
	return ok && ce.Category == derrors.CategoryDaemon && ce.Message == derrors.NotRunning().Message
}
