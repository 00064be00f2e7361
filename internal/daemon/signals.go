package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
)

// startInterruptible runs Start while sigs is watched. SIGINT or SIGTERM
// cancels ctx through cancel and is returned, so the caller can shut down if
// Start still won the race. SIGHUP is ignored until the daemon is running.
func (d *Daemon) startInterruptible(ctx context.Context, cancel context.CancelFunc, sigs <-chan os.Signal) (os.Signal, error) {
	started := make(chan struct{})
	caught := make(chan os.Signal, 1)
	go func() {
		defer close(caught)
		for {
			select {
			case <-started:
				return
			case sig := <-sigs:
				name := signalName(sig)
				if sig == syscall.SIGHUP {
					slog.Info("Starting up, ignoring signal",
						logfields.Category(logfields.CatSignal),
						logfields.Signal(name))
					continue
				}
				slog.Info("Received signal during startup",
					logfields.Category(logfields.CatSignal),
					logfields.Signal(name))
				caught <- sig
				cancel()
				return
			}
		}
	}()

	err := d.Start(ctx)
	close(started)
	return <-caught, err
}

// watchSignals routes SIGINT and SIGTERM from sigs to Shutdown and SIGHUP to
// Reload until ctx is done or shutdown finishes. The returned func stops the
// routing goroutine.
func (d *Daemon) watchSignals(ctx context.Context, sigs <-chan os.Signal) func() {
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-d.shutdownDone:
				return
			case sig := <-sigs:
				d.handleSignal(ctx, sig)
			}
		}
	}()

	return func() { close(stop) }
}

// handleSignal maps one signal to its lifecycle action. A panic inside the
// handler is recovered and logged so signal delivery keeps working.
func (d *Daemon) handleSignal(ctx context.Context, sig os.Signal) {
	name := signalName(sig)
	defer func() {
		if r := recover(); r != nil {
			err := derrors.SignalHandlingFailed(name, fmt.Errorf("panic: %v", r))
			slog.Error("Signal handler failed",
				logfields.Category(logfields.CatError),
				logfields.Signal(name),
				logfields.Error(err))
		}
	}()

	if d.ShuttingDown() {
		slog.Info("Shutdown in progress, ignoring signal",
			logfields.Category(logfields.CatSignal),
			logfields.Signal(name))
		return
	}
	slog.Info("Received signal", logfields.Category(logfields.CatSignal), logfields.Signal(name))

	switch sig {
	case syscall.SIGHUP:
		if err := d.Reload(ctx, name); err != nil {
			slog.Error("Restart failed",
				logfields.Category(logfields.CatError),
				logfields.Signal(name),
				logfields.Error(err))
		}
	case syscall.SIGINT, syscall.SIGTERM:
		d.Shutdown(name)
	default:
		slog.Debug("Unhandled signal", logfields.Category(logfields.CatSignal), logfields.Signal(name))
	}
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return sig.String()
	}
}
