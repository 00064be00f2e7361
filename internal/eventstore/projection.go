package eventstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Session summary statuses.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
	SessionFailed = "failed"
)

// SessionSummary is a read model of one session reconstructed from events.
type SessionSummary struct {
	SessionID        string     `json:"session_id"`
	Context          string     `json:"context,omitempty"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	Backups          int        `json:"backups"`
	MessagesArchived int        `json:"messages_archived"`
	BytesArchived    int64      `json:"bytes_archived"`
	LastIssues       []string   `json:"last_issues,omitempty"`
	StopReason       string     `json:"stop_reason,omitempty"`
	FailedStage      string     `json:"failed_stage,omitempty"`
}

// SessionHistoryProjection keeps a bounded, newest-first view of sessions.
type SessionHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	sessions map[string]*SessionSummary
	maxSize  int
	lastSync time.Time
}

// NewSessionHistoryProjection creates a projection backed by store.
func NewSessionHistoryProjection(store Store, maxHistorySize int) *SessionHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &SessionHistoryProjection{
		store:    store,
		sessions: make(map[string]*SessionSummary),
		maxSize:  maxHistorySize,
	}
}

// Rebuild reconstructs the projection from every event in the store.
func (p *SessionHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions = make(map[string]*SessionSummary)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.pruneLocked()
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event as it is emitted.
func (p *SessionHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
	p.pruneLocked()
}

func (p *SessionHistoryProjection) applyEventLocked(event Event) {
	id := event.SessionID()
	if id == "" {
		return
	}

	summary, exists := p.sessions[id]
	if !exists {
		summary = &SessionSummary{SessionID: id, Status: SessionActive, StartedAt: event.Timestamp()}
		p.sessions[id] = summary
	}

	switch event.Type() {
	case TypeSessionStarted:
		summary.StartedAt = event.Timestamp()
		var payload struct {
			Context string `json:"context"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Context = payload.Context
		}

	case TypeChatBackupFlushed:
		var payload struct {
			Bytes    int64             `json:"bytes"`
			Messages []json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Backups++
			summary.MessagesArchived += len(payload.Messages)
			summary.BytesArchived += payload.Bytes
		}

	case TypeHealthIssues:
		var payload struct {
			Issues []string `json:"issues"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.LastIssues = payload.Issues
		}

	case TypeStartupFailed:
		at := event.Timestamp()
		summary.EndedAt = &at
		summary.Status = SessionFailed
		var payload struct {
			Stage string `json:"stage"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.FailedStage = payload.Stage
		}

	case TypeDaemonStopped:
		at := event.Timestamp()
		summary.EndedAt = &at
		summary.Status = SessionEnded
		var payload struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.StopReason = payload.Reason
		}
	}
}

// pruneLocked drops the oldest finished sessions beyond maxSize.
func (p *SessionHistoryProjection) pruneLocked() {
	if len(p.sessions) <= p.maxSize {
		return
	}
	ordered := p.orderedLocked()
	for _, s := range ordered[p.maxSize:] {
		if s.Status != SessionActive {
			delete(p.sessions, s.SessionID)
		}
	}
}

// orderedLocked returns sessions newest first.
func (p *SessionHistoryProjection) orderedLocked() []*SessionSummary {
	out := make([]*SessionSummary, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// GetHistory returns copies of the session summaries, newest first.
func (p *SessionHistoryProjection) GetHistory() []SessionSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ordered := p.orderedLocked()
	out := make([]SessionSummary, len(ordered))
	for i, s := range ordered {
		out[i] = *s
	}
	return out
}

// GetSession returns the summary for a specific session.
func (p *SessionHistoryProjection) GetSession(sessionID string) (SessionSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return SessionSummary{}, false
	}
	return *s, true
}

// Totals sums archived backups and messages across known sessions.
func (p *SessionHistoryProjection) Totals() (sessions, backups, messages int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sessions {
		backups += s.Backups
		messages += s.MessagesArchived
	}
	return len(p.sessions), backups, messages
}

// LastSyncTime returns when the projection was last rebuilt.
func (p *SessionHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
