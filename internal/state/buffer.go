package state

import (
	"sync"
	"time"
)

// ChatEntry is one buffered message.
type ChatEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	SessionID string    `json:"session_id,omitempty"`
}

// MessageBuffer is an append-only sequence of entries that is drained as one
// atomic step by a backup flush.
type MessageBuffer struct {
	mu      sync.Mutex
	entries []ChatEntry
}

// Append adds an entry and returns the new buffer length.
func (b *MessageBuffer) Append(e ChatEntry) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	return len(b.entries)
}

// Len returns the number of buffered entries.
func (b *MessageBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Drain removes and returns every buffered entry in order. Entries appended
// after Drain returns land in the (now empty) buffer.
func (b *MessageBuffer) Drain() []ChatEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	return out
}

// Restore puts previously drained entries back in front of anything appended
// since, preserving the original order. Used when a flush write fails.
func (b *MessageBuffer) Restore(entries []ChatEntry) {
	if len(entries) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]ChatEntry, 0, len(entries)+len(b.entries))
	merged = append(merged, entries...)
	merged = append(merged, b.entries...)
	b.entries = merged
}

// Reset discards every buffered entry.
func (b *MessageBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}
