package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "memoryd"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration   *prom.HistogramVec
	stageResults    *prom.CounterVec
	taskDuration    *prom.HistogramVec
	taskResults     *prom.CounterVec
	flushBytes      *prom.CounterVec
	flushRetries    *prom.CounterVec
	bufferedMessage prom.Gauge
	healthIssues    prom.Gauge
	daemonRunning   prom.Gauge
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
// A nil registry gets a private one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_stage_duration_seconds",
			Help:      "Duration of individual startup stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "startup_stage_results_total",
			Help:      "Startup stage result counts by outcome",
		}, []string{"stage", "result"}),
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of periodic task runs",
			Buckets:   prom.DefBuckets,
		}, []string{"task"}),
		taskResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_results_total",
			Help:      "Periodic task runs by outcome",
		}, []string{"task", "result"}),
		flushBytes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "flush_bytes_total",
			Help:      "Bytes written by persistence flushes",
		}, []string{"kind"}),
		flushRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "flush_retries_total",
			Help:      "Retried persistence flushes during shutdown",
		}, []string{"kind"}),
		bufferedMessage: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_messages",
			Help:      "Chat entries waiting for the next backup",
		}),
		healthIssues: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "health_issues",
			Help:      "Offline stages found by the last health check",
		}),
		daemonRunning: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while every stage is online and the scheduler is active",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.taskDuration, pr.taskResults,
		pr.flushBytes, pr.flushRetries, pr.bufferedMessage, pr.healthIssues, pr.daemonRunning)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	if p == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(task string, result ResultLabel) {
	if p == nil {
		return
	}
	p.taskResults.WithLabelValues(task, string(result)).Inc()
}

func (p *PrometheusRecorder) AddFlushBytes(kind FlushKind, n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.flushBytes.WithLabelValues(string(kind)).Add(float64(n))
}

func (p *PrometheusRecorder) IncFlushRetry(kind FlushKind) {
	if p == nil {
		return
	}
	p.flushRetries.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusRecorder) SetBufferedMessages(n int) {
	if p == nil {
		return
	}
	p.bufferedMessage.Set(float64(n))
}

func (p *PrometheusRecorder) SetHealthIssues(n int) {
	if p == nil {
		return
	}
	p.healthIssues.Set(float64(n))
}

func (p *PrometheusRecorder) SetDaemonRunning(running bool) {
	if p == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	p.daemonRunning.Set(v)
}
