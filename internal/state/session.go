package state

import (
	"time"

	"github.com/google/uuid"
)

// Session contexts recorded when a session is created.
const (
	SessionContextStartup      = "memory_daemon_startup"
	SessionContextAutoDetected = "auto_detected"
)

// Session is one logical period of activity. It is never mutated after
// creation; a new session replaces it.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Context   string    `json:"context"`
}

// NewSession creates a session with a fresh opaque id.
func NewSession(context string, now time.Time) Session {
	return Session{
		ID:        "session_" + uuid.NewString(),
		StartedAt: now,
		Context:   context,
	}
}
