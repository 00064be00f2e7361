package daemon

import (
	"time"

	"git.home.luguber.info/inful/memoryd/internal/state"
	"git.home.luguber.info/inful/memoryd/internal/version"
)

// HealthStatus represents the overall health of the daemon.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the result of a health check.
type HealthReport struct {
	Status           HealthStatus      `json:"status"`
	Timestamp        time.Time         `json:"timestamp"`
	Uptime           string            `json:"uptime"`
	Version          string            `json:"version"`
	Running          bool              `json:"running"`
	Stages           []state.StageFlag `json:"stages"`
	Issues           []string          `json:"issues,omitempty"`
	BufferedMessages int               `json:"buffered_messages"`
	ChatsSaved       int               `json:"chats_saved"`
	ArchivedSessions int               `json:"archived_sessions,omitempty"`
}

// PerformHealthCheck inspects the in-memory status. Every offline stage is
// an issue; a daemon that is not running is unhealthy.
func (d *Daemon) PerformHealthCheck() HealthReport {
	now := d.runtime.Now()
	snap := d.runtime.Snapshot()

	report := HealthReport{
		Status:           HealthStatusHealthy,
		Timestamp:        now,
		Uptime:           snap.Uptime(now).Truncate(time.Second).String(),
		Version:          version.Version,
		Running:          snap.DaemonRunning,
		Stages:           snap.Stages,
		BufferedMessages: d.runtime.Buffer.Len(),
		ChatsSaved:       snap.ChatsSavedCount,
	}
	for _, name := range snap.OfflineStages() {
		report.Issues = append(report.Issues, name+" offline")
	}
	if len(report.Issues) > 0 {
		report.Status = HealthStatusDegraded
	}
	if !snap.DaemonRunning {
		report.Status = HealthStatusUnhealthy
	}
	if _, history, _ := d.collaborators(); history != nil {
		report.ArchivedSessions, _, _ = history.Totals()
	}
	return report
}
