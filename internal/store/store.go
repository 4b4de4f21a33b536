// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/cadencehq/cadence/internal/domain"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a record with the same identity
// already exists.
var ErrDuplicate = errors.New("already exists")

// Repository defines the interface for persisting sessions, transcripts,
// sequences, and users.
type Repository interface {
	// ListSessions returns a user's sessions ordered by creation time,
	// newest first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// GetSession retrieves one session by id.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// CreateSession inserts a session. Returns ErrDuplicate if the id
	// is already taken.
	CreateSession(ctx context.Context, userID string, s *domain.Session) error

	// RenameSession updates a session's display name.
	RenameSession(ctx context.Context, id, name string) error

	// DeleteSession removes a session and cascades to its messages and
	// sequences.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage stores one transcript entry.
	AppendMessage(ctx context.Context, m *domain.StoredMessage) error

	// ListMessages returns a session's transcript ordered by creation
	// time, oldest first.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.StoredMessage, error)

	// LatestSequence returns the current sequence document for a
	// session, or (nil, nil) when none exists.
	LatestSequence(ctx context.Context, sessionID string) (*domain.SequenceDocument, error)

	// SaveSequence upserts the sequence document for a session.
	SaveSequence(ctx context.Context, sessionID, userID string, doc *domain.SequenceDocument) error

	// DeleteSequence removes the sequence document for a session.
	DeleteSequence(ctx context.Context, sessionID string) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// UpsertUser creates or updates a user keyed by email, assigning an
	// id on first insert.
	UpsertUser(ctx context.Context, u *domain.User) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
