package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
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
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS sequences (
		session_id TEXT PRIMARY KEY,
		user_id TEXT,
		doc_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		company TEXT,
		company_details TEXT,
		created_at INTEGER NOT NULL
	);
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListSessions returns a user's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `
		SELECT id, name, created_at, updated_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = time.Unix(created, 0).UTC()
		sess.UpdatedAt = time.Unix(updated, 0).UTC()
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// GetSession retrieves one session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT id, name, created_at, updated_at FROM sessions WHERE id = ?`

	var sess domain.Session
	var created, updated int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&sess.ID, &sess.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.UpdatedAt = time.Unix(updated, 0).UTC()
	return &sess, nil
}

// CreateSession inserts a session.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID string, sess *domain.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	query := `INSERT INTO sessions (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, sess.ID, userID, sess.Name, sess.CreatedAt.Unix(), sess.UpdatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// RenameSession updates a session's display name.
func (s *SQLiteStore) RenameSession(ctx context.Context, id, name string) error {
	query := `UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, name, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and cascades to messages and sequences.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sequences WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session sequences: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// AppendMessage stores one transcript entry.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *domain.StoredMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	query := `INSERT INTO messages (session_id, user_id, role, content, tool_calls, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, m.SessionID, m.UserID, m.Role, m.Content, nullable(m.ToolCalls), m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

// ListMessages returns a session's transcript, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.StoredMessage, error) {
	query := `
		SELECT id, session_id, user_id, role, content, tool_calls, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		var userID, toolCalls sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &userID, &m.Role, &m.Content, &toolCalls, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.UserID = userID.String
		m.ToolCalls = toolCalls.String
		m.CreatedAt = time.Unix(created, 0).UTC()
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// LatestSequence returns the current sequence document for a session.
func (s *SQLiteStore) LatestSequence(ctx context.Context, sessionID string) (*domain.SequenceDocument, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx, `SELECT doc_json FROM sequences WHERE session_id = ?`, sessionID).Scan(&docJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}

	var doc domain.SequenceDocument
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("decode stored sequence: %w", err)
	}
	return &doc, nil
}

// SaveSequence upserts the sequence document for a session.
func (s *SQLiteStore) SaveSequence(ctx context.Context, sessionID, userID string, doc *domain.SequenceDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}
	query := `
		INSERT INTO sequences (session_id, user_id, doc_json, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET doc_json = excluded.doc_json, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, sessionID, userID, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("save sequence: %w", err)
	}
	return nil
}

// DeleteSequence removes the sequence document for a session.
func (s *SQLiteStore) DeleteSequence(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sequences WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, name, email, company, company_details, created_at FROM users WHERE id = ?`

	var u domain.User
	var company, details sql.NullString
	var created int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &company, &details, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Company = company.String
	u.CompanyDetails = details.String
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// UpsertUser creates or updates a user keyed by email.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO users (id, name, email, company, company_details, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET name = excluded.name, company = excluded.company, company_details = excluded.company_details`
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Name, u.Email, u.Company, u.CompanyDetails, u.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	// Resolve the canonical id in case the email already existed.
	var id string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, u.Email).Scan(&id); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	u.ID = id
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
