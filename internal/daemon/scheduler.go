package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/logfields"
	"git.home.luguber.info/inful/memoryd/internal/metrics"
)

// Task is a named unit of recurring work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler wraps a gocron scheduler running the daemon's periodic tasks.
// A Scheduler is single-use: once stopped it cannot be started again.
type Scheduler struct {
	scheduler gocron.Scheduler
	recorder  metrics.Recorder

	// ctx is handed to every task run and cancelled once Stop returns.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]uuid.UUID
	stopped bool
}

// NewScheduler creates a scheduler whose Stop waits at most stopTimeout for
// in-flight runs.
func NewScheduler(stopTimeout time.Duration, recorder metrics.Recorder) (*Scheduler, error) {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	opts := []gocron.SchedulerOption{}
	if stopTimeout > 0 {
		opts = append(opts, gocron.WithStopTimeout(stopTimeout))
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		recorder:  recorder,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]uuid.UUID),
	}, nil
}

// Schedule registers a task that first fires one interval from Start and then
// every interval. A run that would overlap the previous one is rescheduled.
func (s *Scheduler) Schedule(task Task) (string, error) {
	if task.Interval <= 0 {
		return "", derrors.ValidationFailed("interval", fmt.Sprintf("task %s: interval must be > 0", task.Name))
	}
	if task.Run == nil {
		return "", derrors.ValidationFailed("task", fmt.Sprintf("task %s has no function", task.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[task.Name]; exists {
		return "", derrors.ValidationFailed("task", fmt.Sprintf("task %s already scheduled", task.Name))
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(task.Interval),
		gocron.NewTask(s.execute, task),
		gocron.WithName(task.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
				s.recorder.IncTaskResult(jobName, metrics.ResultFailed)
				slog.Error("Scheduled task panicked",
					logfields.Category(logfields.CatError),
					logfields.Task(jobName),
					logfields.JobID(jobID.String()),
					slog.Any("panic", recoverData))
			}),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to schedule task %s: %w", task.Name, err)
	}
	s.jobs[task.Name] = job.ID()

	slog.Debug("Scheduled periodic task",
		logfields.Category(logfields.CatDaemon),
		logfields.Task(task.Name),
		logfields.Interval(task.Interval),
		logfields.JobID(job.ID().String()))
	return job.ID().String(), nil
}

// execute is called by gocron for each firing. Errors are logged and counted;
// the schedule always continues.
func (s *Scheduler) execute(task Task) {
	if s.ctx.Err() != nil {
		s.recorder.IncTaskResult(task.Name, metrics.ResultCanceled)
		return
	}
	start := time.Now()
	err := task.Run(s.ctx)
	s.recorder.ObserveTaskDuration(task.Name, time.Since(start))
	if err != nil {
		s.recorder.IncTaskResult(task.Name, metrics.ResultFailed)
		slog.Error("Periodic task failed",
			logfields.Category(logfields.CatError),
			logfields.Task(task.Name),
			logfields.Error(err))
		return
	}
	s.recorder.IncTaskResult(task.Name, metrics.ResultSuccess)
}

// Tasks returns the names of scheduled tasks.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// RunNow triggers an immediate run of the named task outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %s", name)
	}
	for _, j := range s.scheduler.Jobs() {
		if j.ID() == id {
			return j.RunNow()
		}
	}
	return fmt.Errorf("task %s not registered with scheduler", name)
}

// Start begins firing tasks.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", logfields.Category(logfields.CatDaemon), logfields.Count(len(s.Tasks())))
	s.scheduler.Start()
}

// Stop cancels future firings and waits for in-flight runs, bounded by the
// stop timeout and by ctx. Calling Stop more than once is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	slog.Info("Stopping scheduler", logfields.Category(logfields.CatDaemon))
	done := make(chan error, 1)
	go func() { done <- s.scheduler.Shutdown() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
	s.cancel()
	return err
}
