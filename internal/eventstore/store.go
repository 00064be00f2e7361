// Package eventstore archives lifecycle events and flushed chat backups in
// SQLite so history survives beyond the rolling files in the data root.
package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, sessionID, eventType string, payload []byte, metadata map[string]string) error

	// GetBySession retrieves all events recorded for a session, oldest first.
	GetBySession(ctx context.Context, sessionID string) ([]Event, error)

	// GetRange retrieves events within a time range, oldest first.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Close closes the store and releases resources.
	Close() error
}

// AppendEvent stores a typed event.
func AppendEvent(ctx context.Context, s Store, e Event) error {
	return s.Append(ctx, e.SessionID(), e.Type(), e.Payload(), e.Metadata())
}
