// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/ztc/internal/persistence/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS audit_records (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		ts_unix_ms     INTEGER NOT NULL,
		type           TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		action_id      TEXT NOT NULL,
		kind           TEXT NOT NULL,
		level          TEXT NOT NULL DEFAULT '',
		disposition    TEXT NOT NULL,
		outcome_detail TEXT NOT NULL,
		actor          TEXT NOT NULL DEFAULT '',
		latency_ms     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_records(action_id);`,
}

// SQLiteSink stores records in a queryable table.
type SQLiteSink struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens the database at path, refuses it if a quick integrity
// check fails, and migrates it.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if err := sqlite.Check(context.Background(), db, sqlite.CheckQuick); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: %s: %w", path, err)
	}
	if err := sqlite.Migrate(db, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Write implements Sink.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return sql.ErrConnDone
	}
	rec = stamp(rec)
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_records
		(ts_unix_ms, type, session_id, action_id, kind, level, disposition, outcome_detail, actor, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixMilli(), string(rec.Type), rec.SessionID, rec.ActionID, rec.Kind,
		rec.Level, rec.Disposition, rec.OutcomeDetail, rec.Actor, rec.LatencyMS)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Check runs an integrity check on the open database.
func (s *SQLiteSink) Check(ctx context.Context, mode sqlite.CheckMode) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return sql.ErrConnDone
	}
	return sqlite.Check(ctx, db, mode)
}

// Records returns the records for a session in write order. An empty
// sessionID returns every record.
func (s *SQLiteSink) Records(ctx context.Context, sessionID string) ([]Record, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, sql.ErrConnDone
	}

	query := `SELECT seq, ts_unix_ms, type, session_id, action_id, kind, level, disposition, outcome_detail, actor, latency_ms
		FROM audit_records`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY seq`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			ts  int64
			typ string
		)
		if err := rows.Scan(&rec.Seq, &ts, &typ, &rec.SessionID, &rec.ActionID, &rec.Kind,
			&rec.Level, &rec.Disposition, &rec.OutcomeDetail, &rec.Actor, &rec.LatencyMS); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		rec.Type = EventType(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
