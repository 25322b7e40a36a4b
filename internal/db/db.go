package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Process lifecycle events.
const (
	EventProcessStarted = "process.started"
	EventProcessStopped = "process.stopped"
	EventWebhookSet     = "webhook.set"
	EventWebhookDeleted = "webhook.deleted"
)

// Per-update events.
const (
	EventUpdateReceived    = "update.received"
	EventUpdateIgnored     = "update.ignored"
	EventCommandDispatched = "command.dispatched"
	EventContextAssembled  = "context.assembled"
	EventBackendCompleted  = "backend.completed"
	EventBackendFailed     = "backend.failed"
	EventHistorySaved      = "history.saved"
	EventReplySent         = "reply.sent"
	EventHandlerFailed     = "handler.failed"
)

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// InitSchema creates all tables: events, kv.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);

		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
	`)
	return err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, event_type, payload) VALUES (?, ?, ?)`,
		parentID, eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// Journal records audit events. The zero parent means a root event.
type Journal interface {
	Record(parentID int64, eventType string, payload map[string]any) int64
}

// SQLJournal writes events to the events table. Failures are reported to
// OnError and otherwise ignored; the audit log never fails a request.
type SQLJournal struct {
	DB      *sql.DB
	OnError func(eventType string, err error)
}

func (j *SQLJournal) Record(parentID int64, eventType string, payload map[string]any) int64 {
	var parent *int64
	if parentID > 0 {
		parent = &parentID
	}
	id, err := LogEvent(j.DB, parent, eventType, payload)
	if err != nil && j.OnError != nil {
		j.OnError(eventType, err)
	}
	return id
}

// NopJournal discards every event.
type NopJournal struct{}

func (NopJournal) Record(int64, string, map[string]any) int64 { return 0 }

type eventKey struct{}

// WithEvent returns ctx carrying id as the parent for events recorded
// further down the call chain.
func WithEvent(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, eventKey{}, id)
}

// EventFrom returns the event id stored by WithEvent, or 0.
func EventFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(eventKey{}).(int64)
	return id
}
