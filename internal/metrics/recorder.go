package metrics

import "time"

// ResultLabel enumerates stage and task result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// FlushKind labels persistence flushes.
type FlushKind string

const (
	FlushChatBackup FlushKind = "chat_backup"
	FlushState      FlushKind = "state"
)

// Recorder defines observability hooks for startup stages, periodic tasks and
// persistence. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveTaskDuration(task string, d time.Duration)
	IncTaskResult(task string, result ResultLabel)
	AddFlushBytes(kind FlushKind, n int64)
	IncFlushRetry(kind FlushKind)
	SetBufferedMessages(n int)
	SetHealthIssues(n int)
	SetDaemonRunning(running bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) ObserveTaskDuration(string, time.Duration)  {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)          {}
func (NoopRecorder) AddFlushBytes(FlushKind, int64)             {}
func (NoopRecorder) IncFlushRetry(FlushKind)                    {}
func (NoopRecorder) SetBufferedMessages(int)                    {}
func (NoopRecorder) SetHealthIssues(int)                        {}
func (NoopRecorder) SetDaemonRunning(bool)                      {}
