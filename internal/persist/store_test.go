package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), "data")
	s := NewStore(root, filepath.Join(root, "memoryd.pid"))
	require.NoError(t, s.EnsureDirectories())
	return s
}

func TestEnsureDirectories_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureDirectories())

	for _, dir := range []string{s.Root(), s.ChatsDir(), s.MemoryDir(), s.LogsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir(), dir)
	}
}

func TestEnsureDirectories_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o600))

	err := NewStore(root, filepath.Join(root, "pid")).EnsureDirectories()
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryIO))
}

func TestFlushChatBackup_WritesEntriesInOrder(t *testing.T) {
	s := newTestStore(t)
	buf := &state.MessageBuffer{}
	for _, c := range []string{"one", "two", "three"} {
		buf.Append(state.ChatEntry{Timestamp: time.Now(), Sender: "user", Content: c, SessionID: "session_x"})
	}

	res, err := s.FlushChatBackup(buf, "session_x")
	require.NoError(t, err)
	require.Equal(t, 3, res.Count)
	require.Positive(t, res.Bytes)
	require.Zero(t, buf.Len())

	files, err := s.ListChatBackups()
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, res.Path, files[0])

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), res.Bytes)

	var doc ChatBackup
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "session_x", doc.SessionID)
	require.Len(t, doc.Messages, 3)
	require.Equal(t, "one", doc.Messages[0].Content)
	require.Equal(t, "three", doc.Messages[2].Content)
	require.Equal(t, "memoryd", doc.Metadata["source"])
}

func TestFlushChatBackup_EmptyBufferIsNoop(t *testing.T) {
	s := newTestStore(t)

	res, err := s.FlushChatBackup(&state.MessageBuffer{}, "")
	require.NoError(t, err)
	require.Zero(t, res.Count)

	files, err := s.ListChatBackups()
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestFlushChatBackup_UniqueNamesForSameInstant(t *testing.T) {
	s := newTestStore(t)
	instant := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return instant })

	buf := &state.MessageBuffer{}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		buf.Append(state.ChatEntry{Sender: "user", Content: "m"})
		res, err := s.FlushChatBackup(buf, "")
		require.NoError(t, err)
		require.False(t, seen[res.Path], "duplicate backup path %s", res.Path)
		seen[res.Path] = true
	}

	files, err := s.ListChatBackups()
	require.NoError(t, err)
	require.Len(t, files, 3)
}

func TestFlushChatBackup_RestoresOnWriteFailure(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.RemoveAll(s.ChatsDir()))
	// A regular file where chats/ should be makes every write fail.
	require.NoError(t, os.WriteFile(s.ChatsDir(), []byte("x"), 0o600))

	buf := &state.MessageBuffer{}
	buf.Append(state.ChatEntry{Sender: "user", Content: "first"})
	buf.Append(state.ChatEntry{Sender: "user", Content: "second"})

	_, err := s.FlushChatBackup(buf, "")
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryIO))

	entries := buf.Drain()
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Content)
	require.Equal(t, "second", entries[1].Content)
}

func TestFlushState_OverwritesSnapshot(t *testing.T) {
	s := newTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	s.SetClock(func() time.Time { return now })
	s.SetVersion("1.2.3")
	s.SetConfigEcho(map[string]string{"data_dir": s.Root()})

	status := state.SystemStatus{
		Stages:    []state.StageFlag{{Name: state.StageMainPower, Active: true}},
		StartedAt: &started,
	}
	require.NoError(t, s.FlushState(status, nil))

	status.DaemonRunning = true
	status.ChatsSavedCount = 4
	session := state.NewSession(state.SessionContextStartup, started)
	require.NoError(t, s.FlushState(status, &session))

	snap, err := s.ReadState()
	require.NoError(t, err)
	require.True(t, snap.Status.DaemonRunning)
	require.Equal(t, 4, snap.Status.ChatsSavedCount)
	require.Equal(t, 90*time.Second, snap.Uptime())
	require.Equal(t, "1.2.3", snap.Version)
	require.NotNil(t, snap.Session)
	require.Equal(t, session.ID, snap.Session.ID)
	require.Equal(t, os.Getpid(), snap.PID)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp")
	}
}

func TestReadState_MissingAndMalformed(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadState()
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, os.WriteFile(s.StatePath(), []byte("{not json"), 0o600))
	_, err = s.ReadState()
	require.Error(t, err)
	require.True(t, derrors.IsCategory(err, derrors.CategoryIO))
}
