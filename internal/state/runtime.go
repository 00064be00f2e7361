package state

import (
	"sync"
	"time"
)

// Runtime owns the daemon's mutable state. The zero value is not usable; use
// NewRuntime.
type Runtime struct {
	Buffer *MessageBuffer

	mu      sync.RWMutex
	status  SystemStatus
	session *Session
	now     func() time.Time
}

// NewRuntime returns an empty runtime using the wall clock.
func NewRuntime() *Runtime {
	return &Runtime{Buffer: &MessageBuffer{}, now: time.Now}
}

// SetClock overrides the time source (tests).
func (r *Runtime) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Now returns the runtime's current time.
func (r *Runtime) Now() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}

// Reset starts a fresh status with every named stage offline and no session.
// The message buffer is left untouched.
func (r *Runtime) Reset(stages []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flags := make([]StageFlag, len(stages))
	for i, name := range stages {
		flags[i] = StageFlag{Name: name}
	}
	r.status = SystemStatus{Stages: flags}
	r.session = nil
}

// MarkStageActive flips the flag of the named stage to true.
func (r *Runtime) MarkStageActive(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.status.Stages {
		if r.status.Stages[i].Name == name {
			r.status.Stages[i].Active = true
			return
		}
	}
	r.status.Stages = append(r.status.Stages, StageFlag{Name: name, Active: true})
}

// SetRunning records whether the daemon is fully operational. The start time
// is set on the first transition to running.
func (r *Runtime) SetRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.DaemonRunning = running
	if running && r.status.StartedAt == nil {
		t := r.now()
		r.status.StartedAt = &t
	}
}

// Running reports the daemonRunning flag.
func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.DaemonRunning
}

// RecordBackup bumps the saved-chats counter and the last backup time.
func (r *Runtime) RecordBackup(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.ChatsSavedCount++
	r.status.LastBackupAt = &at
}

// Snapshot returns a deep copy of the current status.
func (r *Runtime) Snapshot() SystemStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.clone()
}

// Session returns the active session, if any.
func (r *Runtime) Session() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// StartSession replaces the active session with a new one.
func (r *Runtime) StartSession(context string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := NewSession(context, r.now())
	r.session = &s
	return s
}

// EnsureSession creates a session only when none is active. The boolean
// reports whether a new session was created.
func (r *Runtime) EnsureSession(context string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return *r.session, false
	}
	s := NewSession(context, r.now())
	r.session = &s
	return s, true
}

// AddMessage buffers a chat entry tagged with the current session id and
// returns the new buffer length.
func (r *Runtime) AddMessage(content, sender string) int {
	r.mu.RLock()
	entry := ChatEntry{Timestamp: r.now(), Sender: sender, Content: content}
	if r.session != nil {
		entry.SessionID = r.session.ID
	}
	r.mu.RUnlock()
	return r.Buffer.Append(entry)
}
