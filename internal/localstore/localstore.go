// Package localstore is the client-side durable cache: the session
// list snapshot, the active-session choice, and the user profile. It
// backs the restart-to-same-place behavior; during a live run it is
// write-through only, never authoritative.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/state"
	_ "modernc.org/sqlite"
)

var _ state.LocalStore = (*SQLite)(nil)

const (
	kvActiveSession = "active_session"
	kvProfile       = "profile"
)

// SQLite implements the local cache on a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// New opens (or creates) the local cache database.
func New(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_cache (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		sessions_json TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Sessions returns the cached session list. The second return value
// distinguishes "no cache yet" (first run) from an empty cached list.
func (s *SQLite) Sessions() ([]*domain.Session, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT sessions_json FROM session_cache WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session cache: %w", err)
	}

	var sessions []*domain.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, false, fmt.Errorf("decode session cache: %w", err)
	}
	return sessions, true, nil
}

// SaveSessions replaces the cached list wholesale.
func (s *SQLite) SaveSessions(sessions []*domain.Session) error {
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	raw, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO session_cache (id, sessions_json) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET sessions_json = excluded.sessions_json`,
		string(raw))
	if err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return nil
}

// ActiveSession returns the stored active session id, "" when unset.
func (s *SQLite) ActiveSession() (string, error) {
	id, err := s.getKV(kvActiveSession)
	if err != nil {
		return "", fmt.Errorf("read active session: %w", err)
	}
	return id, nil
}

// SaveActiveSession stores the active session id.
func (s *SQLite) SaveActiveSession(id string) error {
	if err := s.setKV(kvActiveSession, id); err != nil {
		return fmt.Errorf("write active session: %w", err)
	}
	return nil
}

// Profile returns the stored user profile, nil when none exists.
func (s *SQLite) Profile() (*domain.User, error) {
	raw, err := s.getKV(kvProfile)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &user, nil
}

// SaveProfile stores the user profile.
func (s *SQLite) SaveProfile(u *domain.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.setKV(kvProfile, string(raw)); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (s *SQLite) getKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLite) setKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}
