package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-based event store.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeError("open", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, storeError("initialize schema", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_session_id ON events(session_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_event_type ON events(event_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a new event to the store.
func (s *SQLiteStore) Append(ctx context.Context, sessionID, eventType string, payload []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return storeError("append", fmt.Errorf("marshal metadata: %w", err))
		}
	}
	if payload == nil {
		payload = []byte{}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (session_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)",
		sessionID, eventType, s.now().UnixMilli(), payload, metadataJSON,
	)
	if err != nil {
		return storeError("append", fmt.Errorf("insert event: %w", err))
	}

	return nil
}

// GetBySession retrieves all events for a specific session.
func (s *SQLiteStore) GetBySession(ctx context.Context, sessionID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, event_type, timestamp, payload, metadata FROM events WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, storeError("query", err)
	}
	defer func() { _ = rows.Close() }()

	return s.scanEvents(rows)
}

// GetRange retrieves events within a time range.
func (s *SQLiteStore) GetRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, event_type, timestamp, payload, metadata FROM events WHERE timestamp >= ? AND timestamp <= ? ORDER BY id",
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, storeError("query", err)
	}
	defer func() { _ = rows.Close() }()

	return s.scanEvents(rows)
}

func (s *SQLiteStore) scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e BaseEvent
		var timestampMillis int64
		var metadataJSON []byte

		err := rows.Scan(&e.EventID, &e.EventSessionID, &e.EventType, &timestampMillis, &e.EventPayload, &metadataJSON)
		if err != nil {
			return nil, storeError("scan", err)
		}

		e.EventTimestamp = time.UnixMilli(timestampMillis)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.EventMetadata); err != nil {
				return nil, storeError("scan", fmt.Errorf("unmarshal metadata: %w", err))
			}
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("scan", err)
	}

	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
