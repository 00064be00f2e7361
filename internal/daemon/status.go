package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/persist"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

// StatusReport is what the status command prints. It is derived only from
// files on disk and never mutates daemon state.
type StatusReport struct {
	Running      bool
	PID          int
	ProcessAlive bool
	Uptime       time.Duration
	StartedAt    *time.Time
	ChatsSaved   int
	LastBackupAt *time.Time
	SessionID    string
	Stages       []state.StageFlag
	// Degraded is set when the snapshot could not be used; only liveness
	// fields are then meaningful.
	Degraded       bool
	DegradedReason string
}

// ReadStatus reports liveness from the marker and, when readable, details
// from the last state snapshot. Missing or malformed files degrade the
// report; they are never an error.
func ReadStatus(store *persist.Store, now time.Time) StatusReport {
	if !store.MarkerExists() {
		return StatusReport{}
	}

	report := StatusReport{Running: true}
	marker, markerErr := store.ReadMarker()
	if markerErr == nil {
		report.PID = marker.PID
		report.ProcessAlive = persist.ProcessAlive(marker.PID)
	}

	snap, err := store.ReadState()
	switch {
	case err != nil:
		report.Degraded = true
		report.DegradedReason = describeSnapshotError(err)
	case snap.Status.StartedAt == nil:
		report.Degraded = true
		report.DegradedReason = "snapshot has no start time"
	default:
		report.StartedAt = snap.Status.StartedAt
		report.Uptime = nonNegative(now.Sub(*snap.Status.StartedAt))
	}
	if snap != nil {
		report.ChatsSaved = snap.Status.ChatsSavedCount
		report.LastBackupAt = snap.Status.LastBackupAt
		report.Stages = snap.Status.Stages
		if snap.Session != nil {
			report.SessionID = snap.Session.ID
		}
	}
	if report.StartedAt == nil && markerErr == nil && !marker.CreatedAt.IsZero() {
		report.Uptime = nonNegative(now.Sub(marker.CreatedAt))
	}
	return report
}

func describeSnapshotError(err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return "state snapshot missing"
	}
	return "state snapshot unreadable"
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// String renders the report for humans.
func (r StatusReport) String() string {
	if !r.Running {
		return "memoryd is not running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "memoryd is running\n")
	if r.PID > 0 {
		fmt.Fprintf(&b, "  PID:          %d", r.PID)
		if !r.ProcessAlive {
			b.WriteString(" (process not found, marker may be stale)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "  Uptime:       %s\n", r.Uptime.Truncate(time.Second))
	if r.Degraded {
		fmt.Fprintf(&b, "  Details:      unavailable (%s)\n", r.DegradedReason)
		return b.String()
	}
	fmt.Fprintf(&b, "  Chats saved:  %d\n", r.ChatsSaved)
	if r.LastBackupAt != nil {
		fmt.Fprintf(&b, "  Last backup:  %s\n", r.LastBackupAt.Format(time.RFC3339))
	} else {
		b.WriteString("  Last backup:  never\n")
	}
	if r.SessionID != "" {
		fmt.Fprintf(&b, "  Session:      %s\n", r.SessionID)
	}
	if len(r.Stages) > 0 {
		b.WriteString("  Stages:\n")
		for _, st := range r.Stages {
			mark := "offline"
			if st.Active {
				mark = "online"
			}
			fmt.Fprintf(&b, "    %-18s %s\n", st.Name, mark)
		}
	}
	return b.String()
}

// Stop sends SIGTERM to the process named by the liveness marker and returns
// its pid. Without a marker it returns a NotRunning error and signals nothing.
func Stop(store *persist.Store) (int, error) {
	if !store.MarkerExists() {
		return 0, derrors.NotRunning()
	}
	marker, err := store.ReadMarker()
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(marker.PID)
	if err != nil {
		return marker.PID, derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityError, "daemon process not found").
			WithContext("pid", marker.PID)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			// The process is gone; the marker is stale.
			_ = store.RemoveMarker()
			return marker.PID, derrors.NotRunning().WithContext("pid", marker.PID)
		}
		return marker.PID, derrors.Wrap(err, derrors.CategoryDaemon, derrors.SeverityError, "failed to signal daemon").
			WithContext("pid", marker.PID)
	}
	return marker.PID, nil
}

// WaitForExit polls until the liveness marker disappears or ctx is done.
func WaitForExit(ctx context.Context, store *persist.Store, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for store.MarkerExists() {
		select {
		case <-ctx.Done():
			return derrors.Wrap(ctx.Err(), derrors.CategoryDaemon, derrors.SeverityError, "daemon did not exit in time").
				WithContext("marker", store.MarkerPath())
		case <-ticker.C:
		}
	}
	return nil
}
