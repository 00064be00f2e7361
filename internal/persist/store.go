// Package persist writes and reads the daemon's on-disk state under a data
// root:
//
//	<data_root>/
//	  memory-state.json        single overwritten status snapshot
//	  chats/
//	    chat-backup-<ts>.json  one file per non-empty buffer flush
//	  memory/
//	  logs/
//	    daemon-<date>.log
//
// plus the liveness marker holding the daemon's PID.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/state"
)

// Well-known names inside the data root.
const (
	StateFileName = "memory-state.json"
	ChatsDirName  = "chats"
	MemoryDirName = "memory"
	LogsDirName   = "logs"

	chatBackupPrefix = "chat-backup-"
	backupTimeLayout = "2006-01-02T15-04-05.000000000Z"
)

// Operation names reported in IOError context.
const (
	OpEnsureDirectories = "ensure_directories"
	OpFlushChatBackup   = "flush_chat_backup"
	OpFlushState        = "flush_state"
	OpReadState         = "read_state"
	OpWriteMarker       = "write_marker"
	OpReadMarker        = "read_marker"
	OpRemoveMarker      = "remove_marker"
)

// Store is the filesystem persistence layer.
type Store struct {
	root       string
	markerPath string
	now        func() time.Time

	// chatMu serializes backup filename allocation; stateMu serializes
	// snapshot writes so the temp file is never shared.
	chatMu  sync.Mutex
	stateMu sync.Mutex

	configEcho any
	version    string
	metadata   map[string]string
}

// NewStore creates a store rooted at dataDir with the liveness marker at
// markerPath. No directories are created until EnsureDirectories.
func NewStore(dataDir, markerPath string) *Store {
	return &Store{
		root:       dataDir,
		markerPath: markerPath,
		now:        time.Now,
		metadata: map[string]string{
			"source":         "memoryd",
			"format_version": "1",
		},
	}
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// SetConfigEcho sets the (already redacted) configuration echoed into snapshots.
func (s *Store) SetConfigEcho(cfg any) { s.configEcho = cfg }

// SetVersion sets the daemon version recorded in snapshots.
func (s *Store) SetVersion(v string) { s.version = v }

func (s *Store) Root() string       { return s.root }
func (s *Store) ChatsDir() string   { return filepath.Join(s.root, ChatsDirName) }
func (s *Store) MemoryDir() string  { return filepath.Join(s.root, MemoryDirName) }
func (s *Store) LogsDir() string    { return filepath.Join(s.root, LogsDirName) }
func (s *Store) StatePath() string  { return filepath.Join(s.root, StateFileName) }
func (s *Store) MarkerPath() string { return s.markerPath }

// EnsureDirectories creates the data root and its chats/, memory/ and logs/
// subdirectories. Safe to call repeatedly.
func (s *Store) EnsureDirectories() error {
	for _, dir := range []string{s.root, s.ChatsDir(), s.MemoryDir(), s.LogsDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return derrors.IOFailed(OpEnsureDirectories, dir, err)
		}
	}
	return nil
}

// ChatBackup is the on-disk format of one buffer flush.
type ChatBackup struct {
	SessionID string            `json:"session_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Messages  []state.ChatEntry `json:"messages"`
	Metadata  map[string]string `json:"metadata"`
}

// BackupResult describes a completed chat backup flush.
type BackupResult struct {
	Path      string
	Bytes     int64
	Count     int
	Timestamp time.Time
	Messages  []state.ChatEntry
}

// FlushChatBackup drains buf and writes its entries to a new file under
// chats/. An empty buffer is a no-op returning a zero result. If the write
// fails the drained entries are restored to the front of the buffer.
func (s *Store) FlushChatBackup(buf *state.MessageBuffer, sessionID string) (BackupResult, error) {
	entries := buf.Drain()
	if len(entries) == 0 {
		return BackupResult{}, nil
	}

	res, err := s.writeChatBackup(entries, sessionID)
	if err != nil {
		buf.Restore(entries)
		return BackupResult{}, err
	}
	return res, nil
}

func (s *Store) writeChatBackup(entries []state.ChatEntry, sessionID string) (BackupResult, error) {
	ts := s.now().UTC()
	doc := ChatBackup{
		SessionID: sessionID,
		Timestamp: ts,
		Messages:  entries,
		Metadata:  s.metadata,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return BackupResult{}, derrors.IOFailed(OpFlushChatBackup, s.ChatsDir(), fmt.Errorf("marshal backup: %w", err))
	}

	s.chatMu.Lock()
	defer s.chatMu.Unlock()

	if err := os.MkdirAll(s.ChatsDir(), 0o750); err != nil {
		return BackupResult{}, derrors.IOFailed(OpFlushChatBackup, s.ChatsDir(), err)
	}

	base := chatBackupPrefix + ts.Format(backupTimeLayout)
	for attempt := 0; ; attempt++ {
		name := base + ".json"
		if attempt > 0 {
			name = base + "-" + strconv.Itoa(attempt) + ".json"
		}
		path := filepath.Join(s.ChatsDir(), name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 -- path built inside data root
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return BackupResult{}, derrors.IOFailed(OpFlushChatBackup, path, err)
		}
		n, werr := f.Write(data)
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(path)
			return BackupResult{}, derrors.IOFailed(OpFlushChatBackup, path, werr)
		}
		return BackupResult{Path: path, Bytes: int64(n), Count: len(entries), Timestamp: ts, Messages: entries}, nil
	}
}

// ListChatBackups returns backup file paths sorted by name (oldest first).
func (s *Store) ListChatBackups() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.ChatsDir(), chatBackupPrefix+"*.json"))
	if err != nil {
		return nil, derrors.IOFailed(OpReadState, s.ChatsDir(), err)
	}
	return matches, nil
}

// StateSnapshot is the content of memory-state.json.
type StateSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Status    state.SystemStatus `json:"system_status"`
	Session   *state.Session     `json:"current_session,omitempty"`
	UptimeMS  int64              `json:"uptime_ms"`
	PID       int                `json:"pid"`
	Version   string             `json:"version,omitempty"`
	Config    any                `json:"config,omitempty"`
}

// Uptime returns the recorded uptime as a duration.
func (s StateSnapshot) Uptime() time.Duration {
	return time.Duration(s.UptimeMS) * time.Millisecond
}

// FlushState overwrites memory-state.json with the given status and session
// plus the computed uptime. The file is replaced atomically.
func (s *Store) FlushState(status state.SystemStatus, session *state.Session) error {
	now := s.now().UTC()
	snap := StateSnapshot{
		Timestamp: now,
		Status:    status,
		Session:   session,
		UptimeMS:  status.Uptime(now).Milliseconds(),
		PID:       os.Getpid(),
		Version:   s.version,
		Config:    s.configEcho,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return derrors.IOFailed(OpFlushState, s.StatePath(), fmt.Errorf("marshal snapshot: %w", err))
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if err := writeFileAtomic(s.StatePath(), data); err != nil {
		return derrors.IOFailed(OpFlushState, s.StatePath(), err)
	}
	return nil
}

// ReadState reads memory-state.json.
func (s *Store) ReadState() (*StateSnapshot, error) {
	data, err := os.ReadFile(s.StatePath())
	if err != nil {
		return nil, derrors.IOFailed(OpReadState, s.StatePath(), err)
	}
	var snap StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, derrors.IOFailed(OpReadState, s.StatePath(), fmt.Errorf("decode snapshot: %w", err))
	}
	return &snap, nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), ".json")+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
