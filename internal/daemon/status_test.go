package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/persist"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

func newStatusStore(t *testing.T) *persist.Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), "data")
	s := persist.NewStore(root, filepath.Join(root, "memoryd.pid"))
	require.NoError(t, s.EnsureDirectories())
	return s
}

func TestReadStatus_NoMarker(t *testing.T) {
	r := ReadStatus(newStatusStore(t), time.Now())
	require.False(t, r.Running)
	require.Equal(t, "memoryd is not running", r.String())
}

func TestReadStatus_MarkerWithoutSnapshot(t *testing.T) {
	s := newStatusStore(t)
	require.NoError(t, s.WriteMarker(os.Getpid()))

	r := ReadStatus(s, time.Now().Add(time.Second))
	require.True(t, r.Running)
	require.Equal(t, os.Getpid(), r.PID)
	require.True(t, r.ProcessAlive)
	require.True(t, r.Degraded)
	require.GreaterOrEqual(t, r.Uptime, time.Duration(0))
	require.Contains(t, r.String(), "unavailable")
}

func TestReadStatus_MalformedSnapshot(t *testing.T) {
	s := newStatusStore(t)
	require.NoError(t, s.WriteMarker(os.Getpid()))
	require.NoError(t, os.WriteFile(s.StatePath(), []byte("{broken"), 0o600))

	r := ReadStatus(s, time.Now())
	require.True(t, r.Running)
	require.True(t, r.Degraded)
	require.Equal(t, "state snapshot unreadable", r.DegradedReason)
}

func TestReadStatus_FromSnapshot(t *testing.T) {
	s := newStatusStore(t)
	require.NoError(t, s.WriteMarker(os.Getpid()))

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	backup := started.Add(time.Minute)
	status := state.SystemStatus{
		Stages:          []state.StageFlag{{Name: state.StageMainPower, Active: true}},
		DaemonRunning:   true,
		StartedAt:       &started,
		LastBackupAt:    &backup,
		ChatsSavedCount: 7,
	}
	session := state.NewSession(state.SessionContextStartup, started)
	require.NoError(t, s.FlushState(status, &session))

	r := ReadStatus(s, started.Add(2*time.Hour))
	require.True(t, r.Running)
	require.False(t, r.Degraded)
	require.Equal(t, 2*time.Hour, r.Uptime)
	require.Equal(t, 7, r.ChatsSaved)
	require.NotNil(t, r.LastBackupAt)
	require.True(t, backup.Equal(*r.LastBackupAt))
	require.Equal(t, session.ID, r.SessionID)

	out := r.String()
	require.Contains(t, out, "Chats saved:  7")
	require.Contains(t, out, "mainPower")
}

func TestStop_NoMarker(t *testing.T) {
	pid, err := Stop(newStatusStore(t))
	require.Zero(t, pid)
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryDaemon))
}

func TestWaitForExit(t *testing.T) {
	s := newStatusStore(t)
	require.NoError(t, s.WriteMarker(os.Getpid()))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = s.RemoveMarker()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, WaitForExit(ctx, s, 5*time.Millisecond))
}

func TestWaitForExit_Timeout(t *testing.T) {
	s := newStatusStore(t)
	require.NoError(t, s.WriteMarker(os.Getpid()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, WaitForExit(ctx, s, 5*time.Millisecond))
}
