// Package state implements the client-side session and state
// synchronization layer: the session registry, the realtime channel
// binding, and the transcript and sequence stores that reconcile
// optimistic local state with server-held state.
package state

import (
	"context"

	"github.com/cadencehq/cadence/internal/domain"
)

// Backend is the request/response surface the core consumes. The REST
// implementation lives in internal/client.
type Backend interface {
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
	CreateSession(ctx context.Context, userID string, s *domain.Session) error
	RenameSession(ctx context.Context, id, name string) error
	DeleteSession(ctx context.Context, id string) error

	ChatHistory(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	// SendChat is the fallback delivery path; the returned string is the
	// assistant reply carried in the response body.
	SendChat(ctx context.Context, sessionID, userID, message string) (string, error)

	FetchSequence(ctx context.Context, sessionID string) (*domain.SequenceDocument, error)
	SaveSequence(ctx context.Context, sessionID, userID string, doc *domain.SequenceDocument) (string, error)
	ResetSequence(ctx context.Context, sessionID string) error

	FetchAppConfig(ctx context.Context) (*domain.AppConfig, error)
}

// LocalStore is the durable local cache that survives restarts: the
// session list snapshot, the active session id, and the user profile.
// It is read once at startup and written on every mutation; it is
// never authoritative during a live run.
type LocalStore interface {
	// Sessions returns the cached list and whether a cache exists at
	// all. The distinction drives the list-merge rule: with a cache,
	// server sessions absent from it are treated as deleted.
	Sessions() ([]*domain.Session, bool, error)
	SaveSessions(sessions []*domain.Session) error

	ActiveSession() (string, error)
	SaveActiveSession(id string) error

	Profile() (*domain.User, error)
	SaveProfile(u *domain.User) error
}
