package state

import "time"

// Default stage names, in activation order.
const (
	StageMainPower        = "mainPower"
	StageWorkingMemory    = "workingMemory"
	StageEpisodicMemory   = "episodicMemory"
	StageSemanticMemory   = "semanticMemory"
	StageProceduralMemory = "proceduralMemory"
	StageVectorDatabase   = "vectorDatabase"
)

// StageFlag records whether one startup stage is online.
type StageFlag struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// SystemStatus is a point-in-time copy of the daemon's operational state.
type SystemStatus struct {
	Stages          []StageFlag `json:"stages"`
	DaemonRunning   bool        `json:"daemon_running"`
	LastBackupAt    *time.Time  `json:"last_backup_at,omitempty"`
	ChatsSavedCount int         `json:"chats_saved_count"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
}

// Flags returns the stage flags in stage order.
func (s SystemStatus) Flags() []bool {
	out := make([]bool, len(s.Stages))
	for i, st := range s.Stages {
		out[i] = st.Active
	}
	return out
}

// OfflineStages lists stages whose flag is false.
func (s SystemStatus) OfflineStages() []string {
	var out []string
	for _, st := range s.Stages {
		if !st.Active {
			out = append(out, st.Name)
		}
	}
	return out
}

// Uptime is the time since StartedAt, or zero when the daemon never started.
func (s SystemStatus) Uptime(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	d := now.Sub(*s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func (s SystemStatus) clone() SystemStatus {
	out := s
	out.Stages = append([]StageFlag(nil), s.Stages...)
	if s.LastBackupAt != nil {
		t := *s.LastBackupAt
		out.LastBackupAt = &t
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	return out
}
