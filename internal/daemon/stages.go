package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

// Stage is one named activation routine of the startup sequence.
// Activate must be safe to run again on restart.
type Stage struct {
	Name     string
	Activate func(ctx context.Context) error
}

// Startup runs every stage in order. A stage's flag becomes true right after
// it succeeds. The first failure stops the sequence: later stages never run,
// earlier flags stay true, and a startup error naming the stage is returned.
func (d *Daemon) Startup(ctx context.Context) error {
	delay := d.cfg.StageDelay()
	for i, st := range d.stages {
		if i > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return d.stageFailed(i, st, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return d.stageFailed(i, st, err)
		}

		slog.Info("Activating stage",
			logfields.Category(logfields.CatStartup),
			logfields.Stage(st.Name),
			logfields.StageIndex(i+1))

		start := time.Now()
		err := runStage(ctx, st)
		d.recorder.ObserveStageDuration(st.Name, time.Since(start))
		if err != nil {
			return d.stageFailed(i, st, err)
		}

		d.runtime.MarkStageActive(st.Name)
		d.recorder.IncStageResult(st.Name, metrics.ResultSuccess)
		slog.Info("Stage online",
			logfields.Category(logfields.CatStartup),
			logfields.Stage(st.Name),
			logfields.DurationMS(float64(time.Since(start).Microseconds())/1000))
	}
	return nil
}

func (d *Daemon) stageFailed(i int, st Stage, cause error) error {
	d.recorder.IncStageResult(st.Name, metrics.ResultFailed)
	slog.Error("Startup stage failed",
		logfields.Category(logfields.CatError),
		logfields.Stage(st.Name),
		logfields.StageIndex(i+1),
		logfields.Error(cause))
	return derrors.StartupFailed(st.Name, cause)
}

// runStage converts a panicking stage into an ordinary failure.
func runStage(ctx context.Context, st Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	if st.Activate == nil {
		return nil
	}
	return st.Activate(ctx)
}

// defaultStages is the standard activation order.
func (d *Daemon) defaultStages() []Stage {
	return []Stage{
		{Name: state.StageMainPower, Activate: d.activateMainPower},
		{Name: state.StageWorkingMemory, Activate: d.activateWorkingMemory},
		{Name: state.StageEpisodicMemory, Activate: func(context.Context) error {
			return ensureWritable(d.store.ChatsDir())
		}},
		{Name: state.StageSemanticMemory, Activate: func(context.Context) error {
			return ensureWritable(d.store.MemoryDir())
		}},
		{Name: state.StageProceduralMemory, Activate: d.activateProceduralMemory},
		{Name: state.StageVectorDatabase, Activate: d.activateVectorDatabase},
	}
}

// activateMainPower opens the startup session.
func (d *Daemon) activateMainPower(ctx context.Context) error {
	s := d.runtime.StartSession(state.SessionContextStartup)
	slog.Info("Session started",
		logfields.Category(logfields.CatSession),
		logfields.SessionID(s.ID),
		slog.String("context", s.Context))
	d.emitSession(ctx, s)
	return nil
}

// activateWorkingMemory starts from an empty message buffer.
func (d *Daemon) activateWorkingMemory(context.Context) error {
	d.runtime.Buffer.Reset()
	d.recorder.SetBufferedMessages(0)
	return nil
}

// activateProceduralMemory checks that every periodic task has a usable
// period before the scheduler is built.
func (d *Daemon) activateProceduralMemory(context.Context) error {
	for _, t := range d.tasks() {
		if t.Interval <= 0 {
			return fmt.Errorf("task %s has no interval", t.Name)
		}
	}
	return ensureWritable(d.store.LogsDir())
}

// activateVectorDatabase verifies the long-term archive answers queries.
func (d *Daemon) activateVectorDatabase(ctx context.Context) error {
	archive, _, _ := d.collaborators()
	if archive == nil {
		slog.Debug("No archive configured", logfields.Category(logfields.CatStartup))
		return nil
	}
	now := time.Now()
	if _, err := archive.GetRange(ctx, now, now); err != nil {
		return fmt.Errorf("archive probe: %w", err)
	}
	return nil
}

// ensureWritable creates and removes a probe file in dir.
func ensureWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return derrors.IOFailed("probe", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return derrors.IOFailed("probe", dir, err)
	}
	return nil
}
