package daemon

import (
	"context"
	"log/slog"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/eventstore"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
	"git.home.luguber.info/inful/memoryd/internal/notify"
	"git.home.luguber.info/inful/memoryd/internal/persist"
	"git.home.luguber.info/inful/memoryd/internal/state"
	"git.home.luguber.info/inful/memoryd/internal/version"
)

// emitTimeout bounds each archive write and publish.
const emitTimeout = 2 * time.Second

// emit archives event (when an archive is configured) and publishes a
// notification of kind. Both are best effort: failures are logged only.
func (d *Daemon) emit(ctx context.Context, event eventstore.Event, kind string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()

	archive, history, publisher := d.collaborators()
	if archive != nil && event != nil {
		if err := eventstore.AppendEvent(ctx, archive, event); err != nil {
			slog.Warn("Failed to archive event",
				logfields.Category(logfields.CatDaemon),
				slog.String("event_type", event.Type()),
				logfields.Error(err))
		} else if history != nil {
			history.Apply(event)
		}
	}

	if publisher == nil {
		return
	}
	n := notify.Event{Kind: kind, Timestamp: time.Now(), PID: d.pid, Data: data}
	if event != nil {
		n.SessionID = event.SessionID()
	}
	if err := publisher.Publish(ctx, n); err != nil {
		slog.Warn("Failed to publish event",
			logfields.Category(logfields.CatDaemon),
			slog.String("kind", kind),
			logfields.Error(err))
	}
}

func (d *Daemon) sessionID() string {
	if s, ok := d.runtime.Session(); ok {
		return s.ID
	}
	return ""
}

func (d *Daemon) emitSession(ctx context.Context, s state.Session) {
	e, err := eventstore.NewSessionStarted(s.ID, s.Context)
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	d.emit(ctx, e, notify.KindSession, map[string]any{"context": s.Context})
}

func (d *Daemon) emitStarted(ctx context.Context) {
	names := d.stageNames()
	e, err := eventstore.NewDaemonStarted(d.sessionID(), names, d.pid, version.Version)
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	d.emit(ctx, e, notify.KindDaemonStarted, map[string]any{"stages": names, "version": version.Version})
}

func (d *Daemon) emitStartupFailed(ctx context.Context, cause error) {
	stage := ""
	if ce, ok := derrors.As(cause); ok {
		stage = ce.ContextString("stage")
	}
	e, err := eventstore.NewStartupFailed(d.sessionID(), stage, cause.Error())
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	d.emit(ctx, e, notify.KindStartupFailed, map[string]any{"stage": stage, "error": cause.Error()})
}

func (d *Daemon) emitBackup(ctx context.Context, sessionID string, res persist.BackupResult) {
	msgs := make([]eventstore.ArchivedMessage, len(res.Messages))
	for i, m := range res.Messages {
		msgs[i] = eventstore.ArchivedMessage{Timestamp: m.Timestamp, Sender: m.Sender, Content: m.Content}
	}
	e, err := eventstore.NewChatBackupFlushed(sessionID, res.Path, res.Bytes, msgs)
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	d.emit(ctx, e, notify.KindChatBackup, map[string]any{"file": res.Path, "count": res.Count, "bytes": res.Bytes})
}

func (d *Daemon) emitStateSaved(ctx context.Context, status state.SystemStatus) {
	e, err := eventstore.NewStateSaved(d.sessionID(), status.ChatsSavedCount, status.Uptime(d.runtime.Now()))
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	// State saves are archived but not published; they fire every few minutes.
	if archive, _, _ := d.collaborators(); archive != nil {
		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := eventstore.AppendEvent(c, archive, e); err != nil {
			slog.Warn("Failed to archive event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		}
	}
}

func (d *Daemon) emitHealthIssues(ctx context.Context, issues []string) {
	e, err := eventstore.NewHealthIssuesFound(d.sessionID(), issues)
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	d.emit(ctx, e, notify.KindHealthIssues, map[string]any{"issues": issues})
}

func (d *Daemon) emitStopped(ctx context.Context, reason string) {
	e, err := eventstore.NewDaemonStopped(d.sessionID(), reason)
	if err != nil {
		slog.Warn("Failed to build event", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		return
	}
	d.emit(ctx, e, notify.KindDaemonStopped, map[string]any{"reason": reason})
}
