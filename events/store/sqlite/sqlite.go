// Package sqlite provides a file-backed event store on SQLite. Events are
// appended to a single table with their JSON-encoded payload; queries filter
// in SQL where possible and fall back to pattern matching in Go.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hookweave/hookweave/events"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	seq       INTEGER PRIMARY KEY,
	id        TEXT NOT NULL,
	type      TEXT NOT NULL,
	source    TEXT NOT NULL DEFAULT '',
	ts        INTEGER NOT NULL,
	payload   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// Store is a SQLite-backed event log. Safe for concurrent use; WAL mode
// lets readers proceed during appends.
type Store struct {
	db *sql.DB
}

// Open creates or opens the event log at path, applying pragmas and the
// schema. The parent directory is created if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	for _, raw := range strings.Split(schemaSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w (statement=%q)", err, stmt)
		}
	}
	return nil
}

// Append persists an event. The payload is stored as JSON; payloads that do
// not marshal are rejected.
func (s *Store) Append(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (seq, id, type, source, ts, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		evt.Sequence, evt.ID, evt.Type, evt.Source, evt.Timestamp.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Load returns matching events in ascending sequence order. Exact type,
// source, time, and sequence constraints run in SQL; wildcard patterns are
// applied in Go after the scan.
func (s *Store) Load(ctx context.Context, q events.Query) ([]events.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.Pattern != "" && !strings.ContainsRune(q.Pattern, '*') {
		where = append(where, "type = ?")
		args = append(args, q.Pattern)
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.MinSequence > 0 {
		where = append(where, "seq >= ?")
		args = append(args, q.MinSequence)
	}

	query := `SELECT seq, id, type, source, ts, payload FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			evt     events.Event
			ts      int64
			payload string
		)
		if err := rows.Scan(&evt.Sequence, &evt.ID, &evt.Type, &evt.Source, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(payload), &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", evt.ID, err)
		}
		if !q.Matches(evt) {
			continue
		}
		out = append(out, evt)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LastSequence returns the highest stored sequence, or zero when the log
// is empty.
func (s *Store) LastSequence(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&last); err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
