// Package notify publishes daemon lifecycle events to NATS so external
// components can react to startups, shutdowns, backups and health issues.
package notify

import (
	"context"
	"time"
)

// Event kinds, appended to the configured base subject.
const (
	KindDaemonStarted = "daemon.started"
	KindDaemonStopped = "daemon.stopped"
	KindStartupFailed = "startup.failed"
	KindSession       = "session.started"
	KindChatBackup    = "chat.backup"
	KindHealthIssues  = "health.issues"
)

// Event is the JSON document published for each notification.
type Event struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	PID       int            `json:"pid"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher sends lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NoopPublisher drops every event (default when events.nats_url is unset).
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
