package eventstore

import (
	"encoding/json"
	"time"
)

// Event type names.
const (
	TypeDaemonStarted     = "DaemonStarted"
	TypeStartupFailed     = "StartupFailed"
	TypeSessionStarted    = "SessionStarted"
	TypeChatBackupFlushed = "ChatBackupFlushed"
	TypeStateSaved        = "StateSaved"
	TypeHealthIssues      = "HealthIssuesFound"
	TypeDaemonStopped     = "DaemonStopped"
)

func newBase(sessionID, eventType string, payload any) (BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return BaseEvent{}, payloadError(eventType, err)
	}
	return BaseEvent{
		EventSessionID: sessionID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// DaemonStarted is emitted once every stage is online and the scheduler runs.
type DaemonStarted struct {
	BaseEvent
	Stages  []string `json:"stages"`
	PID     int      `json:"pid"`
	Version string   `json:"version,omitempty"`
}

// NewDaemonStarted creates a DaemonStarted event.
func NewDaemonStarted(sessionID string, stages []string, pid int, version string) (*DaemonStarted, error) {
	e := &DaemonStarted{Stages: stages, PID: pid, Version: version}
	base, err := newBase(sessionID, TypeDaemonStarted, map[string]any{
		"stages":  stages,
		"pid":     pid,
		"version": version,
	})
	if err != nil {
		return nil, err
	}
	e.BaseEvent = base
	return e, nil
}

// StartupFailed is emitted when a stage aborts the startup sequence.
type StartupFailed struct {
	BaseEvent
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// NewStartupFailed creates a StartupFailed event.
func NewStartupFailed(sessionID, stage, errMsg string) (*StartupFailed, error) {
	base, err := newBase(sessionID, TypeStartupFailed, map[string]string{
		"stage": stage,
		"error": errMsg,
	})
	if err != nil {
		return nil, err
	}
	return &StartupFailed{BaseEvent: base, Stage: stage, Error: errMsg}, nil
}

// SessionStarted is emitted whenever a new session replaces the active one.
type SessionStarted struct {
	BaseEvent
	Context string `json:"context"`
}

// NewSessionStarted creates a SessionStarted event.
func NewSessionStarted(sessionID, context string) (*SessionStarted, error) {
	base, err := newBase(sessionID, TypeSessionStarted, map[string]string{"context": context})
	if err != nil {
		return nil, err
	}
	return &SessionStarted{BaseEvent: base, Context: context}, nil
}

// ArchivedMessage is one chat entry copied into the archive.
type ArchivedMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
}

// ChatBackupFlushed archives the entries written by one backup flush.
type ChatBackupFlushed struct {
	BaseEvent
	File     string            `json:"file"`
	Bytes    int64             `json:"bytes"`
	Messages []ArchivedMessage `json:"messages"`
}

// NewChatBackupFlushed creates a ChatBackupFlushed event.
func NewChatBackupFlushed(sessionID, file string, bytes int64, messages []ArchivedMessage) (*ChatBackupFlushed, error) {
	base, err := newBase(sessionID, TypeChatBackupFlushed, map[string]any{
		"file":     file,
		"bytes":    bytes,
		"messages": messages,
	})
	if err != nil {
		return nil, err
	}
	return &ChatBackupFlushed{BaseEvent: base, File: file, Bytes: bytes, Messages: messages}, nil
}

// StateSaved is emitted after memory-state.json is rewritten.
type StateSaved struct {
	BaseEvent
	ChatsSaved int   `json:"chats_saved"`
	UptimeMS   int64 `json:"uptime_ms"`
}

// NewStateSaved creates a StateSaved event.
func NewStateSaved(sessionID string, chatsSaved int, uptime time.Duration) (*StateSaved, error) {
	base, err := newBase(sessionID, TypeStateSaved, map[string]any{
		"chats_saved": chatsSaved,
		"uptime_ms":   uptime.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	return &StateSaved{BaseEvent: base, ChatsSaved: chatsSaved, UptimeMS: uptime.Milliseconds()}, nil
}

// HealthIssuesFound lists offline stages reported by a health check.
type HealthIssuesFound struct {
	BaseEvent
	Issues []string `json:"issues"`
}

// NewHealthIssuesFound creates a HealthIssuesFound event.
func NewHealthIssuesFound(sessionID string, issues []string) (*HealthIssuesFound, error) {
	base, err := newBase(sessionID, TypeHealthIssues, map[string]any{"issues": issues})
	if err != nil {
		return nil, err
	}
	return &HealthIssuesFound{BaseEvent: base, Issues: issues}, nil
}

// DaemonStopped is emitted at the end of a shutdown or restart cycle.
type DaemonStopped struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewDaemonStopped creates a DaemonStopped event.
func NewDaemonStopped(sessionID, reason string) (*DaemonStopped, error) {
	base, err := newBase(sessionID, TypeDaemonStopped, map[string]string{"reason": reason})
	if err != nil {
		return nil, err
	}
	return &DaemonStopped{BaseEvent: base, Reason: reason}, nil
}
