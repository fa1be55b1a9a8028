package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteTrail persists audit events to an append-only SQLite table. A
// single write connection plus WAL keeps inserts durable and cheap; the
// pipeline blocks on Record, which is the write-ahead guarantee.
type SQLiteTrail struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewSQLiteTrail(path string) (*SQLiteTrail, error) {
	if path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureAuditSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteTrail{db: db, path: path}, nil
}

func ensureAuditSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			signal_id TEXT,
			order_id TEXT,
			kind TEXT NOT NULL,
			from_state TEXT,
			to_state TEXT,
			code TEXT,
			reason TEXT,
			payload TEXT,
			at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_signal ON audit_events(signal_id, at_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_events(at_ns)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensuring audit schema failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteTrail) Record(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("audit trail is closed")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events
		 (id, signal_id, order_id, kind, from_state, to_state, code, reason, payload, at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.SignalID, evt.OrderID, string(evt.Kind), evt.From, evt.To,
		evt.Code, evt.Reason, string(evt.Payload), evt.At.UnixNano())
	if err != nil {
		return fmt.Errorf("recording audit event failed: %w", err)
	}
	return nil
}

func (s *SQLiteTrail) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, signal_id, order_id, kind, from_state, to_state, code, reason, payload, at_ns
		 FROM audit_events ORDER BY at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteTrail) BySignal(ctx context.Context, signalID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, signal_id, order_id, kind, from_state, to_state, code, reason, payload, at_ns
		 FROM audit_events WHERE signal_id = ? ORDER BY at_ns ASC`, signalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var evt Event
		var payload string
		var atNS int64
		var kind string
		if err := rows.Scan(&evt.ID, &evt.SignalID, &evt.OrderID, &kind, &evt.From, &evt.To,
			&evt.Code, &evt.Reason, &payload, &atNS); err != nil {
			return nil, err
		}
		evt.Kind = Kind(kind)
		if payload != "" {
			evt.Payload = []byte(payload)
		}
		evt.At = time.Unix(0, atNS)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *SQLiteTrail) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
