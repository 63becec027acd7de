package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hirecode/hirecode/internal/domain"
	"github.com/hirecode/hirecode/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Mutex for session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		candidate_name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		location TEXT,
		position TEXT,
		stack TEXT NOT NULL,
		state TEXT NOT NULL,
		deadline INTEGER NOT NULL,
		trust_score REAL NOT NULL DEFAULT 100,
		rating INTEGER NOT NULL,
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		total_tasks INTEGER NOT NULL,
		current_task_id TEXT,
		penalties_json TEXT,
		latest_code_json TEXT,
		transcript_json TEXT,
		scoring_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_deadline ON sessions(deadline) WHERE state = 'active';
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sessionColumns = `session_id, candidate_name, email, phone, location, position,
	       stack, state, deadline, trust_score, rating, tasks_completed, total_tasks,
	       current_task_id, penalties_json, latest_code_json, transcript_json,
	       scoring_json, created_at, updated_at`

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args, err := sessionArgs(session)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`
	row := s.db.QueryRowContext(ctx, query, sessionID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// SaveSession persists the mutable fields of an existing session.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.saveSessionOnce(ctx, session)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("SaveSession hit SQLITE_BUSY, retrying",
				"session_id", session.ID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("save session %s: %w", session.ID, err)
	}

	return nil
}

func (s *SQLiteStore) saveSessionOnce(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	UPDATE sessions SET
		state = ?,
		trust_score = ?,
		rating = ?,
		tasks_completed = ?,
		current_task_id = ?,
		penalties_json = ?,
		latest_code_json = ?,
		transcript_json = ?,
		scoring_json = ?,
		updated_at = ?
	WHERE session_id = ?`

	penalties, latestCode, transcript, scoring, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, query,
		string(session.State), session.TrustScore, session.Rating,
		session.TasksCompleted, nullString(session.CurrentTaskID),
		penalties, latestCode, transcript, scoring,
		time.Now().Unix(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SaveSession affected 0 rows", "session_id", session.ID)
	}
	return nil
}

// ListRecentSessions returns up to limit sessions ordered by most recent update.
func (s *SQLiteStore) ListRecentSessions(ctx context.Context, limit int) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC LIMIT ?`
	return s.querySessions(ctx, query, limit)
}

// GetExpiredSessions retrieves active sessions whose deadline has passed.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE state = 'active' AND deadline <= ?`
	return s.querySessions(ctx, query, now.Unix())
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...interface{}) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var email, phone, location, position sql.NullString
	var currentTaskID sql.NullString
	var penaltiesJSON, latestCodeJSON, transcriptJSON, scoringJSON sql.NullString
	var state string
	var deadline, createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &session.Candidate.Name, &email, &phone, &location, &position,
		&session.Candidate.Stack, &state, &deadline, &session.TrustScore,
		&session.Rating, &session.TasksCompleted, &session.TotalTasks,
		&currentTaskID, &penaltiesJSON, &latestCodeJSON, &transcriptJSON,
		&scoringJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Candidate.Email = email.String
	session.Candidate.Phone = phone.String
	session.Candidate.Location = location.String
	session.Candidate.Position = position.String
	session.CurrentTaskID = currentTaskID.String
	session.State = domain.SessionState(state)
	session.Deadline = time.Unix(deadline, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	if penaltiesJSON.Valid && penaltiesJSON.String != "" {
		if err := json.Unmarshal([]byte(penaltiesJSON.String), &session.Penalties); err != nil {
			return nil, fmt.Errorf("decode penalties: %w", err)
		}
	}
	if latestCodeJSON.Valid && latestCodeJSON.String != "" {
		if err := json.Unmarshal([]byte(latestCodeJSON.String), &session.LatestCode); err != nil {
			return nil, fmt.Errorf("decode latest code: %w", err)
		}
	}
	if transcriptJSON.Valid && transcriptJSON.String != "" {
		if err := json.Unmarshal([]byte(transcriptJSON.String), &session.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if scoringJSON.Valid && scoringJSON.String != "" {
		var scoring domain.ScoringResult
		if err := json.Unmarshal([]byte(scoringJSON.String), &scoring); err != nil {
			return nil, fmt.Errorf("decode scoring: %w", err)
		}
		session.Scoring = &scoring
	}

	return &session, nil
}

func sessionArgs(session *domain.Session) ([]interface{}, error) {
	penalties, latestCode, transcript, scoring, err := encodeSessionJSON(session)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		session.ID, session.Candidate.Name,
		nullString(session.Candidate.Email), nullString(session.Candidate.Phone),
		nullString(session.Candidate.Location), nullString(session.Candidate.Position),
		session.Candidate.Stack, string(session.State), session.Deadline.Unix(),
		session.TrustScore, session.Rating, session.TasksCompleted, session.TotalTasks,
		nullString(session.CurrentTaskID), penalties, latestCode, transcript, scoring,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	}, nil
}

func encodeSessionJSON(session *domain.Session) (penalties, latestCode, transcript, scoring interface{}, err error) {
	if len(session.Penalties) > 0 {
		b, err := json.Marshal(session.Penalties)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode penalties: %w", err)
		}
		penalties = string(b)
	}
	if len(session.LatestCode) > 0 {
		b, err := json.Marshal(session.LatestCode)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode latest code: %w", err)
		}
		latestCode = string(b)
	}
	if len(session.Transcript) > 0 {
		b, err := json.Marshal(session.Transcript)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode transcript: %w", err)
		}
		transcript = string(b)
	}
	if session.Scoring != nil {
		b, err := json.Marshal(session.Scoring)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode scoring: %w", err)
		}
		scoring = string(b)
	}
	return penalties, latestCode, transcript, scoring, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
