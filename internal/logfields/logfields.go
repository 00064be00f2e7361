package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCategory   = "category"
	KeyStage      = "stage"
	KeyStageIndex = "stage_index"
	KeyTask       = "task"
	KeyJobID      = "job_id"
	KeySessionID  = "session_id"
	KeySender     = "sender"
	KeyPath       = "path"
	KeyFile       = "file"
	KeyOperation  = "operation"
	KeyPID        = "pid"
	KeyReason     = "reason"
	KeySignal     = "signal"
	KeyCount      = "count"
	KeyBytes      = "bytes"
	KeyInterval   = "interval"
	KeyDurationMS = "duration_ms"
	KeyUptime     = "uptime"
	KeyIssues     = "issues"
	KeyError      = "error"
)

// Category tags attached to every daemon log line.
const (
	CatDaemon  = "DAEMON"
	CatStartup = "STARTUP"
	CatBackup  = "BACKUP"
	CatMemory  = "MEMORY"
	CatHealth  = "HEALTH"
	CatSession = "SESSION"
	CatChat    = "CHAT"
	CatSignal  = "SIGNAL"
	CatConfig  = "CONFIG"
	CatError   = "ERROR"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Category(c string) slog.Attr        { return slog.String(KeyCategory, c) }
func Stage(name string) slog.Attr        { return slog.String(KeyStage, name) }
func StageIndex(i int) slog.Attr         { return slog.Int(KeyStageIndex, i) }
func Task(name string) slog.Attr         { return slog.String(KeyTask, name) }
func JobID(id string) slog.Attr          { return slog.String(KeyJobID, id) }
func SessionID(id string) slog.Attr      { return slog.String(KeySessionID, id) }
func Sender(s string) slog.Attr          { return slog.String(KeySender, s) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func File(f string) slog.Attr            { return slog.String(KeyFile, f) }
func Operation(op string) slog.Attr      { return slog.String(KeyOperation, op) }
func PID(pid int) slog.Attr              { return slog.Int(KeyPID, pid) }
func Reason(r string) slog.Attr          { return slog.String(KeyReason, r) }
func Signal(s string) slog.Attr          { return slog.String(KeySignal, s) }
func Count(n int) slog.Attr              { return slog.Int(KeyCount, n) }
func Bytes(n int64) slog.Attr            { return slog.Int64(KeyBytes, n) }
func Interval(d time.Duration) slog.Attr { return slog.Duration(KeyInterval, d) }
func DurationMS(ms float64) slog.Attr    { return slog.Float64(KeyDurationMS, ms) }
func Uptime(d time.Duration) slog.Attr   { return slog.Duration(KeyUptime, d) }
func Issues(list []string) slog.Attr     { return slog.Any(KeyIssues, list) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
