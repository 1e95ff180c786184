// Package store persists finalized session records, participants and
// segments in an embedded SQLite database. Persistence is best-effort
// relative to transcript delivery: callers log failures and move on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	context_id    TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	ended_at      DATETIME NOT NULL,
	transcript    TEXT NOT NULL DEFAULT '',
	summary       TEXT NOT NULL DEFAULT '',
	mixdown_path  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_context ON sessions(context_id);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

CREATE TABLE IF NOT EXISTS participants (
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	participant_id TEXT NOT NULL,
	label          TEXT NOT NULL,
	PRIMARY KEY (session_id, participant_id)
);

CREATE TABLE IF NOT EXISTS segments (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	participant_id TEXT NOT NULL,
	label          TEXT NOT NULL,
	start_millis   INTEGER NOT NULL,
	text           TEXT NOT NULL,
	audio_path     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(session_id, start_millis);
`

// SessionRecord is one finalized session row.
type SessionRecord struct {
	ID          string    `json:"id"`
	ContextID   string    `json:"context_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Transcript  string    `json:"transcript"`
	Summary     string    `json:"summary"`
	MixdownPath string    `json:"mixdown_path"`
}

// ParticipantRecord is one participant row.
type ParticipantRecord struct {
	SessionID   string `json:"session_id"`
	Participant string `json:"participant_id"`
	Label       string `json:"label"`
}

// SegmentRecord is one transcribed segment row.
type SegmentRecord struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Participant string `json:"participant_id"`
	Label       string `json:"label"`
	StartMillis int64  `json:"start_millis"`
	Text        string `json:"text"`
	AudioPath   string `json:"audio_path"`
}

// SessionDetail is a session with its participants and segments.
type SessionDetail struct {
	Session      SessionRecord       `json:"session"`
	Participants []ParticipantRecord `json:"participants"`
	Segments     []SegmentRecord     `json:"segments"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession writes a finalized session with its participants and
// segments in one transaction.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord, participants []ParticipantRecord, segments []SegmentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, context_id, started_at, ended_at, transcript, summary, mixdown_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ContextID, rec.StartedAt, rec.EndedAt, rec.Transcript, rec.Summary, rec.MixdownPath)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO participants (session_id, participant_id, label) VALUES (?, ?, ?)`,
			rec.ID, p.Participant, p.Label)
		if err != nil {
			return fmt.Errorf("failed to insert participant %s: %w", p.Participant, err)
		}
	}

	for _, seg := range segments {
		id := seg.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO segments (id, session_id, participant_id, label, start_millis, text, audio_path)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, rec.ID, seg.Participant, seg.Label, seg.StartMillis, seg.Text, seg.AudioPath)
		if err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context_id, started_at, ended_at, transcript, summary, mixdown_path
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.ContextID, &rec.StartedAt, &rec.EndedAt,
			&rec.Transcript, &rec.Summary, &rec.MixdownPath); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// GetSession returns one session with its participants and segments.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	var rec SessionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, context_id, started_at, ended_at, transcript, summary, mixdown_path
		 FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.ContextID, &rec.StartedAt, &rec.EndedAt,
			&rec.Transcript, &rec.Summary, &rec.MixdownPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	detail := &SessionDetail{Session: rec}

	prows, err := s.db.QueryContext(ctx,
		`SELECT session_id, participant_id, label FROM participants WHERE session_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var p ParticipantRecord
		if err := prows.Scan(&p.SessionID, &p.Participant, &p.Label); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		detail.Participants = append(detail.Participants, p)
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, participant_id, label, start_millis, text, audio_path
		 FROM segments WHERE session_id = ? ORDER BY start_millis ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var seg SegmentRecord
		if err := srows.Scan(&seg.ID, &seg.SessionID, &seg.Participant, &seg.Label,
			&seg.StartMillis, &seg.Text, &seg.AudioPath); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		detail.Segments = append(detail.Segments, seg)
	}
	return detail, srows.Err()
}

// DeleteSession removes a session and, via cascade, its participants and
// segments. Deleting a missing session returns ErrNotFound.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
