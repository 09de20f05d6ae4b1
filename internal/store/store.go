// Package store persists refinement sessions to a local sqlite database
// for audit. Recording is best-effort by contract: a failed insert is
// logged and swallowed, the refinement loop never blocks on the store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"scenefix/internal/logging"
	"scenefix/internal/refiner"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	input_bytes INTEGER NOT NULL,
	clean       INTEGER,
	turns       INTEGER,
	final_code  TEXT
);

CREATE TABLE IF NOT EXISTS turns (
	session_id  TEXT NOT NULL REFERENCES sessions(id),
	turn        INTEGER NOT NULL,
	llm_used    INTEGER NOT NULL,
	issue_count INTEGER NOT NULL,
	fix_count   INTEGER NOT NULL,
	issues      TEXT,
	fixes       TEXT,
	recorded_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, turn)
);
`

// Store is a sqlite-backed session recorder.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit database at path, applying the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	// The store is written from concurrent sessions; a single connection
	// sidesteps sqlite write contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply store schema: %w", err)
	}

	logging.Store("audit store open at %s", path)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionStarted records the beginning of a refinement session.
func (s *Store) SessionStarted(sessionID, code string) {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (id, started_at, input_bytes) VALUES (?, ?, ?)`,
		sessionID, time.Now().UTC(), len(code),
	)
	if err != nil {
		logging.StoreError("failed to record session start %s: %v", sessionID, err)
	}
}

// TurnCompleted records one refinement turn.
func (s *Store) TurnCompleted(sessionID string, rec refiner.TurnRecord) {
	issues, err := json.Marshal(rec.Issues)
	if err != nil {
		issues = []byte("[]")
	}
	fixes, err := json.Marshal(rec.Fixes)
	if err != nil {
		fixes = []byte("[]")
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO turns (session_id, turn, llm_used, issue_count, fix_count, issues, fixes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Turn, rec.LLMUsed, len(rec.Issues), len(rec.Fixes),
		string(issues), string(fixes), time.Now().UTC(),
	)
	if err != nil {
		logging.StoreError("failed to record turn %d of %s: %v", rec.Turn, sessionID, err)
	}
}

// SessionFinished records the outcome of a session.
func (s *Store) SessionFinished(sessionID, code string, clean bool, turns int) {
	_, err := s.db.Exec(
		`UPDATE sessions SET finished_at = ?, clean = ?, turns = ?, final_code = ? WHERE id = ?`,
		time.Now().UTC(), clean, turns, code, sessionID,
	)
	if err != nil {
		logging.StoreError("failed to record session finish %s: %v", sessionID, err)
	}
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Clean      sql.NullBool
	Turns      sql.NullInt64
}

// RecentSessions returns the most recent sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, clean, turns
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.StartedAt, &sum.FinishedAt, &sum.Clean, &sum.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// TurnCount returns the number of recorded turns for a session.
func (s *Store) TurnCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return n, nil
}
