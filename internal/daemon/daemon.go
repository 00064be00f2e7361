// Package daemon implements the memory daemon lifecycle: ordered startup
// stages, the periodic task cycle, idempotent shutdown, restart-in-place and
// the stateless status reader used by the CLI.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/memoryd/internal/config"
	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/eventstore"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
	"git.home.luguber.info/inful/memoryd/internal/notify"
	"git.home.luguber.info/inful/memoryd/internal/persist"
	"git.home.luguber.info/inful/memoryd/internal/retry"
	"git.home.luguber.info/inful/memoryd/internal/state"
	"git.home.luguber.info/inful/memoryd/internal/version"
)

// stageLivenessMarker names the startup step that claims the marker.
const stageLivenessMarker = "liveness-marker"

// errShuttingDown is returned by startCycle once Shutdown has begun.
var errShuttingDown = derrors.New(derrors.CategoryDaemon, derrors.SeverityInfo, "shutdown in progress")

// Daemon owns the runtime state and drives its lifecycle.
type Daemon struct {
	cfg        *config.Config
	configPath string
	pid        int

	store     *persist.Store
	runtime   *state.Runtime
	recorder  metrics.Recorder
	registry  *prom.Registry
	archive   eventstore.Store
	history   *eventstore.SessionHistoryProjection
	publisher notify.Publisher
	stages    []Stage
	policy    retry.Policy

	// collabMu guards archive, history and publisher. Shutdown swaps them
	// while a task that outlived the scheduler stop may still be emitting.
	collabMu sync.RWMutex
	// Collaborators opened by the daemon itself are closed on shutdown.
	ownsArchive   bool
	ownsPublisher bool

	// lifecycleMu serializes cycle start/stop between shutdown, reload and
	// the config watcher.
	lifecycleMu sync.Mutex
	scheduler   *Scheduler
	cycleActive bool

	httpServer *HTTPServer
	watcher    *ConfigWatcher

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shuttingDown atomic.Bool

	errMu  sync.Mutex
	runErr error
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithStages replaces the default activation stages.
func WithStages(stages ...Stage) Option {
	return func(d *Daemon) { d.stages = stages }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Daemon) { d.recorder = r }
}

// WithRegistry sets the Prometheus registry served on /metrics. When no
// recorder was injected a PrometheusRecorder is registered on it.
func WithRegistry(reg *prom.Registry) Option {
	return func(d *Daemon) { d.registry = reg }
}

// WithArchive injects the long-term event archive.
func WithArchive(s eventstore.Store) Option {
	return func(d *Daemon) { d.archive = s }
}

// WithPublisher injects the lifecycle event publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(d *Daemon) { d.publisher = p }
}

// WithRuntime injects the runtime state (tests use it to control the clock).
func WithRuntime(r *state.Runtime) Option {
	return func(d *Daemon) { d.runtime = r }
}

// WithConfigPath records the file the configuration was loaded from; required
// for watch_config.
func WithConfigPath(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// WithPID overrides the process id written to the liveness marker.
func WithPID(pid int) Option {
	return func(d *Daemon) { d.pid = pid }
}

// New creates a daemon for cfg. Nothing touches the filesystem or network
// until Start.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, derrors.ValidationFailed("config", "configuration is required")
	}

	d := &Daemon{
		cfg:          cfg,
		pid:          os.Getpid(),
		shutdownDone: make(chan struct{}),
		policy:       retry.FromConfig(cfg),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.runtime == nil {
		d.runtime = state.NewRuntime()
	}
	if d.registry == nil && cfg.Metrics.ListenAddr != "" {
		d.registry = prom.NewRegistry()
	}
	if d.recorder == nil {
		if d.registry != nil {
			d.recorder = metrics.NewPrometheusRecorder(d.registry)
		} else {
			d.recorder = metrics.NoopRecorder{}
		}
	}
	if d.stages == nil {
		d.stages = d.defaultStages()
	}

	d.store = persist.NewStore(cfg.DataDir, cfg.PIDFile)
	d.store.SetClock(d.runtime.Now)
	d.store.SetVersion(version.Version)
	d.store.SetConfigEcho(cfg.Redacted())

	d.runtime.Reset(d.stageNames())
	return d, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	return d.cfg
}

// Runtime exposes the daemon's state.
func (d *Daemon) Runtime() *state.Runtime { return d.runtime }

// Store exposes the persistence layer.
func (d *Daemon) Store() *persist.Store { return d.store }

// Done is closed once Shutdown has finished.
func (d *Daemon) Done() <-chan struct{} { return d.shutdownDone }

// Run starts the daemon and blocks until it has shut down, either through
// Shutdown, a termination signal or ctx cancellation. It returns the startup
// error when the first cycle fails, or the error that forced a shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig, err := d.startInterruptible(runCtx, cancel, sigs)
	if err != nil {
		return err
	}
	if sig != nil {
		d.Shutdown(signalName(sig))
		return d.err()
	}

	stopSignals := d.watchSignals(runCtx, sigs)
	defer stopSignals()

	select {
	case <-ctx.Done():
		d.Shutdown("context canceled")
	case <-d.shutdownDone:
	}
	return d.err()
}

// Start prepares the data root, opens optional collaborators and runs the
// first cycle: marker, startup stages, scheduler. On failure nothing keeps
// running and the marker is removed.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Starting memory daemon",
		logfields.Category(logfields.CatDaemon),
		logfields.PID(d.pid),
		slog.String("version", version.Version),
		logfields.Path(d.store.Root()))

	if err := d.store.EnsureDirectories(); err != nil {
		return derrors.StartupFailed("directories", err)
	}
	d.openCollaborators()

	if err := d.startCycle(ctx); err != nil {
		d.closeCollaborators()
		return err
	}

	if d.cfg.Metrics.ListenAddr != "" {
		d.httpServer = NewHTTPServer(d.cfg.Metrics.ListenAddr, d)
		if err := d.httpServer.Start(ctx); err != nil {
			slog.Warn("Metrics endpoint unavailable",
				logfields.Category(logfields.CatDaemon),
				logfields.Error(err))
			d.httpServer = nil
		}
	}
	if d.cfg.WatchConfig && d.configPath != "" {
		w, err := NewConfigWatcher(d.configPath, d)
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			slog.Warn("Config watcher unavailable",
				logfields.Category(logfields.CatConfig),
				logfields.Error(err))
		} else {
			d.watcher = w
		}
	}
	return nil
}

// Shutdown stops the periodic tasks, performs one final flush of the message
// buffer and the state snapshot, removes the liveness marker and releases
// collaborators. Only the first call does the work; concurrent and later
// calls wait for it to finish.
func (d *Daemon) Shutdown(reason string) {
	d.shutdownOnce.Do(func() {
		d.shuttingDown.Store(true)
		defer close(d.shutdownDone)

		slog.Info("Shutting down memory daemon",
			logfields.Category(logfields.CatDaemon),
			logfields.Reason(reason))

		ctx, cancel := context.WithTimeout(context.Background(), d.Config().ShutdownTimeout())
		defer cancel()

		if d.watcher != nil {
			_ = d.watcher.Stop(ctx)
		}
		d.stopCycle(ctx, reason)
		if d.httpServer != nil {
			if err := d.httpServer.Stop(ctx); err != nil {
				slog.Warn("Metrics endpoint stop failed", logfields.Category(logfields.CatDaemon), logfields.Error(err))
			}
		}
		d.closeCollaborators()

		slog.Info("Memory daemon stopped",
			logfields.Category(logfields.CatDaemon),
			logfields.Reason(reason))
	})
	<-d.shutdownDone
}

// ShuttingDown reports whether Shutdown has begun.
func (d *Daemon) ShuttingDown() bool { return d.shuttingDown.Load() }

// Reload restarts in place: the current cycle is stopped (tasks halted,
// buffer and state flushed, marker removed), then startup and the scheduler
// run again. If the new cycle cannot start the daemon shuts down and Run
// returns the startup error.
func (d *Daemon) Reload(ctx context.Context, reason string) error {
	if d.ShuttingDown() {
		slog.Info("Ignoring restart during shutdown", logfields.Category(logfields.CatDaemon), logfields.Reason(reason))
		return nil
	}
	slog.Info("Restarting in place", logfields.Category(logfields.CatDaemon), logfields.Reason(reason))

	stopCtx, cancel := context.WithTimeout(ctx, d.Config().ShutdownTimeout())
	d.stopCycle(stopCtx, reason)
	cancel()

	if d.ShuttingDown() {
		return nil
	}
	if err := d.startCycle(ctx); err != nil {
		if errors.Is(err, errShuttingDown) {
			return nil
		}
		d.fail(err)
		go d.Shutdown("restart failed")
		return err
	}
	return nil
}

// AddChatMessage buffers a message for the next chat backup, tagged with the
// active session.
func (d *Daemon) AddChatMessage(content, sender string) {
	n := d.runtime.AddMessage(content, sender)
	d.recorder.SetBufferedMessages(n)
	attrs := []any{
		logfields.Category(logfields.CatChat),
		logfields.Sender(sender),
		logfields.Count(n),
	}
	if s, ok := d.runtime.Session(); ok {
		attrs = append(attrs, logfields.SessionID(s.ID))
	}
	slog.Debug("Message buffered", attrs...)
}

// History returns the archived session history, or nil without an archive.
func (d *Daemon) History() *eventstore.SessionHistoryProjection {
	_, history, _ := d.collaborators()
	return history
}

// collaborators returns the current archive, history and publisher.
func (d *Daemon) collaborators() (eventstore.Store, *eventstore.SessionHistoryProjection, notify.Publisher) {
	d.collabMu.RLock()
	defer d.collabMu.RUnlock()
	return d.archive, d.history, d.publisher
}

// Status returns a copy of the in-memory system status.
func (d *Daemon) Status() state.SystemStatus { return d.runtime.Snapshot() }

// startCycle writes the marker, runs the startup stages and starts a fresh
// scheduler. daemonRunning is set only after all of them succeeded.
func (d *Daemon) startCycle(ctx context.Context) error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.shuttingDown.Load() {
		return errShuttingDown
	}

	d.runtime.Reset(d.stageNames())
	if err := d.store.WriteMarker(d.pid); err != nil {
		return derrors.StartupFailed(stageLivenessMarker, err)
	}

	if err := d.Startup(ctx); err != nil {
		d.removeMarker()
		d.emitStartupFailed(ctx, err)
		return err
	}

	sched, err := d.newCycleScheduler()
	if err != nil {
		d.removeMarker()
		return derrors.StartupFailed("scheduler", err)
	}
	sched.Start()
	d.scheduler = sched
	d.cycleActive = true
	d.runtime.SetRunning(true)
	d.recorder.SetDaemonRunning(true)

	if err := d.flushState(ctx); err != nil {
		slog.Warn("Initial state save failed", logfields.Category(logfields.CatMemory), logfields.Error(err))
	}

	slog.Info("Memory daemon running",
		logfields.Category(logfields.CatDaemon),
		logfields.Count(len(d.stages)),
		logfields.PID(d.pid))
	d.emitStarted(ctx)
	return nil
}

// stopCycle halts the scheduler, performs the final flushes and removes the
// marker. Each step is isolated: a failure is logged and the next step runs.
func (d *Daemon) stopCycle(ctx context.Context, reason string) {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	if !d.cycleActive {
		return
	}
	d.cycleActive = false

	d.runtime.SetRunning(false)
	d.recorder.SetDaemonRunning(false)

	if d.scheduler != nil {
		if err := d.scheduler.Stop(ctx); err != nil {
			slog.Warn("Scheduler did not stop cleanly",
				logfields.Category(logfields.CatDaemon),
				logfields.Error(err))
		}
		d.scheduler = nil
	}

	d.finalFlush(ctx, metrics.FlushChatBackup, func(ctx context.Context) error {
		_, err := d.flushChatBackup(ctx)
		return err
	})
	d.finalFlush(ctx, metrics.FlushState, d.flushState)

	d.emitStopped(ctx, reason)
	d.removeMarker()
}

// finalFlush retries fn under the flush policy until ctx expires. Failures
// are logged, never returned.
func (d *Daemon) finalFlush(ctx context.Context, kind metrics.FlushKind, fn func(context.Context) error) {
	attempt := 0
	err := retry.Do(ctx, d.policy, func(ctx context.Context) error {
		if attempt > 0 {
			d.recorder.IncFlushRetry(kind)
		}
		attempt++
		return fn(ctx)
	})
	if err != nil {
		slog.Error("Final flush failed",
			logfields.Category(logfields.CatError),
			logfields.Operation(string(kind)),
			slog.Int("attempts", attempt),
			logfields.Error(err))
	}
}

func (d *Daemon) removeMarker() {
	if err := d.store.RemoveMarker(); err != nil {
		slog.Error("Failed to remove liveness marker",
			logfields.Category(logfields.CatError),
			logfields.Path(d.store.MarkerPath()),
			logfields.Error(err))
	}
}

func (d *Daemon) stageNames() []string {
	names := make([]string, len(d.stages))
	for i, s := range d.stages {
		names[i] = s.Name
	}
	return names
}

func (d *Daemon) fail(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}

func (d *Daemon) err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

// openCollaborators connects the archive and the event publisher when
// configured and not injected. Both are optional: a failure is logged and the
// daemon continues without them.
func (d *Daemon) openCollaborators() {
	archive, history, publisher := d.collaborators()
	ownsArchive, ownsPublisher := false, false

	if archive == nil && d.cfg.Archive.SQLitePath != "" {
		s, err := eventstore.NewSQLiteStore(d.cfg.Archive.SQLitePath)
		if err != nil {
			slog.Warn("Archive unavailable",
				logfields.Category(logfields.CatDaemon),
				logfields.Path(d.cfg.Archive.SQLitePath),
				logfields.Error(err))
		} else {
			archive = s
			ownsArchive = true
		}
	}
	if archive != nil && history == nil {
		history = eventstore.NewSessionHistoryProjection(archive, 50)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := history.Rebuild(ctx); err != nil {
			slog.Warn("Archive history rebuild failed",
				logfields.Category(logfields.CatDaemon),
				logfields.Error(err))
		}
		cancel()
	}
	if publisher == nil && d.cfg.Events.NATSURL != "" {
		p, err := notify.NewNATSPublisher(d.cfg.Events.NATSURL, d.cfg.Events.Subject)
		if err != nil {
			slog.Warn("Event publisher unavailable",
				logfields.Category(logfields.CatDaemon),
				logfields.Error(err))
		} else {
			publisher = p
			ownsPublisher = true
		}
	}
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}

	d.collabMu.Lock()
	defer d.collabMu.Unlock()
	d.archive, d.history, d.publisher = archive, history, publisher
	d.ownsArchive = d.ownsArchive || ownsArchive
	d.ownsPublisher = d.ownsPublisher || ownsPublisher
}

// closeCollaborators releases the collaborators the daemon opened itself.
// Late emitters see them detached before they are closed.
func (d *Daemon) closeCollaborators() {
	d.collabMu.Lock()
	var closeArchive eventstore.Store
	var closePublisher notify.Publisher
	if d.ownsArchive && d.archive != nil {
		closeArchive = d.archive
		d.archive = nil
		d.history = nil
		d.ownsArchive = false
	}
	if d.ownsPublisher && d.publisher != nil {
		closePublisher = d.publisher
		d.publisher = notify.NoopPublisher{}
		d.ownsPublisher = false
	}
	d.collabMu.Unlock()

	if closeArchive != nil {
		if err := closeArchive.Close(); err != nil {
			slog.Warn("Archive close failed", logfields.Category(logfields.CatDaemon), logfields.Error(err))
		}
	}
	if closePublisher != nil {
		_ = closePublisher.Close()
	}
}

// ApplyConfig swaps in settings that take effect on the next cycle. Paths
// and endpoints are fixed for the life of the process.
func (d *Daemon) ApplyConfig(newCfg *config.Config) error {
	if newCfg == nil {
		return derrors.ValidationFailed("config", "configuration is required")
	}
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if newCfg.DataDir != d.cfg.DataDir || newCfg.PIDFile != d.cfg.PIDFile {
		slog.Warn("Data directory changes require a full restart",
			logfields.Category(logfields.CatConfig))
		newCfg.DataDir, newCfg.PIDFile = d.cfg.DataDir, d.cfg.PIDFile
	}
	if newCfg.Metrics.ListenAddr != d.cfg.Metrics.ListenAddr ||
		newCfg.Archive.SQLitePath != d.cfg.Archive.SQLitePath ||
		newCfg.Events.NATSURL != d.cfg.Events.NATSURL {
		slog.Warn("Endpoint changes require a full restart",
			logfields.Category(logfields.CatConfig))
	}

	d.cfg = newCfg
	d.policy = retry.FromConfig(newCfg)
	d.store.SetConfigEcho(newCfg.Redacted())
	return nil
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
