package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/memoryd/internal/config"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
	"git.home.luguber.info/inful/memoryd/internal/notify"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.PIDFile = filepath.Join(cfg.DataDir, "memoryd.pid")
	cfg.Startup.StageDelay = "0s"
	cfg.Shutdown.Timeout = "5s"
	cfg.Shutdown.FlushRetries = 0
	cfg.Shutdown.FlushRetryDelay = "10ms"
	cfg.Intervals = config.IntervalsConfig{
		ChatBackup:    "1h",
		StateSave:     "1h",
		HealthCheck:   "1h",
		SessionDetect: "1h",
	}
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, opts ...Option) *Daemon {
	t.Helper()
	d, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	t.Cleanup(func() {
		select {
		case <-d.Done():
		default:
			d.Shutdown("test cleanup")
		}
	})
	return d
}

// countingRecorder is a concurrency-safe metrics.Recorder for assertions.
type countingRecorder struct {
	mu           sync.Mutex
	stageResults map[string]map[metrics.ResultLabel]int
	taskResults  map[string]map[metrics.ResultLabel]int
	flushBytes   map[metrics.FlushKind]int64
	flushRetries map[metrics.FlushKind]int
	healthIssues int
	running      bool
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		stageResults: map[string]map[metrics.ResultLabel]int{},
		taskResults:  map[string]map[metrics.ResultLabel]int{},
		flushBytes:   map[metrics.FlushKind]int64{},
		flushRetries: map[metrics.FlushKind]int{},
	}
}

func bump(m map[string]map[metrics.ResultLabel]int, key string, r metrics.ResultLabel) {
	inner, ok := m[key]
	if !ok {
		inner = map[metrics.ResultLabel]int{}
		m[key] = inner
	}
	inner[r]++
}

func (c *countingRecorder) ObserveStageDuration(string, time.Duration) {}
func (c *countingRecorder) ObserveTaskDuration(string, time.Duration)  {}
func (c *countingRecorder) SetBufferedMessages(int)                    {}

func (c *countingRecorder) IncStageResult(stage string, r metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bump(c.stageResults, stage, r)
}

func (c *countingRecorder) IncTaskResult(task string, r metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bump(c.taskResults, task, r)
}

func (c *countingRecorder) AddFlushBytes(kind metrics.FlushKind, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushBytes[kind] += n
}

func (c *countingRecorder) IncFlushRetry(kind metrics.FlushKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushRetries[kind]++
}

func (c *countingRecorder) SetHealthIssues(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthIssues = n
}

func (c *countingRecorder) SetDaemonRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

func (c *countingRecorder) taskResult(task string, r metrics.ResultLabel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskResults[task][r]
}

func (c *countingRecorder) stageResult(stage string, r metrics.ResultLabel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stageResults[stage][r]
}

func (c *countingRecorder) issues() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthIssues
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *capturePublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func (p *capturePublisher) last(kind string) (notify.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Kind == kind {
			return p.events[i], true
		}
	}
	return notify.Event{}, false
}
