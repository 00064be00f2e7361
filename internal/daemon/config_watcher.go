package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/memoryd/internal/config"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
)

// ConfigWatcher restarts the daemon in place when its config file changes.
type ConfigWatcher struct {
	configPath   string
	daemon       *Daemon
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopOnce     sync.Once
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
}

// NewConfigWatcher creates a watcher for configPath.
func NewConfigWatcher(configPath string, daemon *Daemon) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &ConfigWatcher{
		configPath:   absPath,
		daemon:       daemon,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start begins monitoring the configuration file.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	// Watching the directory survives editors that replace the file.
	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", configDir, err)
	}

	slog.Info("Starting configuration watcher",
		logfields.Category(logfields.CatConfig),
		logfields.Path(cw.configPath))

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop stops the configuration watcher. Safe to call more than once.
func (cw *ConfigWatcher) Stop(_ context.Context) error {
	cw.stopOnce.Do(func() {
		cw.mu.Lock()
		defer cw.mu.Unlock()
		close(cw.stopChan)
		if err := cw.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", logfields.Category(logfields.CatError), logfields.Error(err))
		}
	})
	return nil
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	configFile := filepath.Base(cw.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				slog.Debug("Config file change detected",
					logfields.Category(logfields.CatConfig),
					logfields.File(event.Name),
					slog.String("op", event.Op.String()))
				cw.triggerReload()
			case event.Has(fsnotify.Remove):
				slog.Warn("Config file removed", logfields.Category(logfields.CatConfig), logfields.File(event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Category(logfields.CatError), logfields.Error(err))
		}
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-cw.stopChan:
			stopTimer()
			return
		case <-cw.reloadChan:
			stopTimer()
			timer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(ctx); err != nil {
					slog.Error("Failed to reload configuration",
						logfields.Category(logfields.CatError),
						logfields.Error(err))
				}
			})
		}
	}
}

func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
	}
}

// performReload loads the file and restarts the daemon with it. An invalid
// file leaves the running cycle untouched.
func (cw *ConfigWatcher) performReload(ctx context.Context) error {
	select {
	case <-cw.stopChan:
		return nil
	default:
	}
	slog.Info("Reloading configuration", logfields.Category(logfields.CatConfig), logfields.Path(cw.configPath))

	newCfg, err := config.Load(cw.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := cw.daemon.ApplyConfig(newCfg); err != nil {
		return fmt.Errorf("failed to apply new configuration: %w", err)
	}
	return cw.daemon.Reload(ctx, "config change")
}
