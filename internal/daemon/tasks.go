package daemon

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/memoryd/internal/logfields"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
	"git.home.luguber.info/inful/memoryd/internal/persist"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

// Periodic task names.
const (
	TaskChatBackup    = "chat-backup"
	TaskStateSave     = "state-save"
	TaskHealthCheck   = "health-check"
	TaskSessionDetect = "session-detect"
)

// tasks lists the periodic work of one cycle with periods from config.
func (d *Daemon) tasks() []Task {
	return []Task{
		{Name: TaskChatBackup, Interval: d.cfg.ChatBackupInterval(), Run: d.runChatBackup},
		{Name: TaskStateSave, Interval: d.cfg.StateSaveInterval(), Run: d.flushState},
		{Name: TaskHealthCheck, Interval: d.cfg.HealthCheckInterval(), Run: d.runHealthCheck},
		{Name: TaskSessionDetect, Interval: d.cfg.SessionDetectInterval(), Run: d.runSessionDetect},
	}
}

// newCycleScheduler builds a scheduler with every periodic task registered.
func (d *Daemon) newCycleScheduler() (*Scheduler, error) {
	sched, err := NewScheduler(d.cfg.ShutdownTimeout(), d.recorder)
	if err != nil {
		return nil, err
	}
	for _, t := range d.tasks() {
		if _, err := sched.Schedule(t); err != nil {
			_ = sched.Stop(context.Background())
			return nil, err
		}
	}
	return sched, nil
}

func (d *Daemon) runChatBackup(ctx context.Context) error {
	_, err := d.flushChatBackup(ctx)
	return err
}

// flushChatBackup writes the buffered messages to a new backup file. An empty
// buffer writes nothing.
func (d *Daemon) flushChatBackup(ctx context.Context) (persist.BackupResult, error) {
	sessionID := d.sessionID()
	res, err := d.store.FlushChatBackup(d.runtime.Buffer, sessionID)
	d.recorder.SetBufferedMessages(d.runtime.Buffer.Len())
	if err != nil {
		return res, err
	}
	if res.Count == 0 {
		return res, nil
	}

	d.runtime.RecordBackup(res.Timestamp)
	d.recorder.AddFlushBytes(metrics.FlushChatBackup, res.Bytes)
	slog.Info("Chat backup saved",
		logfields.Category(logfields.CatBackup),
		logfields.File(res.Path),
		logfields.Count(res.Count),
		logfields.Bytes(res.Bytes),
		logfields.SessionID(sessionID))
	d.emitBackup(ctx, sessionID, res)
	return res, nil
}

// flushState overwrites the state snapshot.
func (d *Daemon) flushState(ctx context.Context) error {
	status := d.runtime.Snapshot()
	var session *state.Session
	if s, ok := d.runtime.Session(); ok {
		session = &s
	}
	if err := d.store.FlushState(status, session); err != nil {
		return err
	}
	slog.Debug("State saved",
		logfields.Category(logfields.CatMemory),
		logfields.Path(d.store.StatePath()),
		logfields.Uptime(status.Uptime(d.runtime.Now())))
	d.emitStateSaved(ctx, status)
	return nil
}

// runHealthCheck reports offline stages. Issues are not task failures.
func (d *Daemon) runHealthCheck(ctx context.Context) error {
	report := d.PerformHealthCheck()
	d.recorder.SetHealthIssues(len(report.Issues))
	d.recorder.SetBufferedMessages(report.BufferedMessages)
	if len(report.Issues) == 0 {
		slog.Debug("Health check passed", logfields.Category(logfields.CatHealth))
		return nil
	}
	for _, issue := range report.Issues {
		slog.Warn("Health issue", logfields.Category(logfields.CatHealth), slog.String("issue", issue))
	}
	d.emitHealthIssues(ctx, report.Issues)
	return nil
}

// runSessionDetect opens an auto-detected session when none is active.
func (d *Daemon) runSessionDetect(ctx context.Context) error {
	s, created := d.runtime.EnsureSession(state.SessionContextAutoDetected)
	if !created {
		return nil
	}
	slog.Info("Session started",
		logfields.Category(logfields.CatSession),
		logfields.SessionID(s.ID),
		slog.String("context", s.Context))
	d.emitSession(ctx, s)
	return nil
}
