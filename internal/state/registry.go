package state

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/google/uuid"
)

// serverCallTimeout bounds the background calls that mirror optimistic
// local mutations to the server.
const serverCallTimeout = 15 * time.Second

// Registry owns the set of known sessions and the active-session
// choice. All mutations are optimistic: local state changes first and
// the server is informed in the background. Per-operation failure
// policy is deliberate product behavior: create, rename, and delete
// all keep the local result when the server call fails.
type Registry struct {
	backend  Backend
	local    LocalStore
	userID   string
	onActive func(sessionID string, fresh bool)

	mu       sync.Mutex
	sessions []*domain.Session // ordered newest first
	activeID string
	deleting map[string]bool

	wg sync.WaitGroup // in-flight server mirror calls
}

// NewRegistry creates a session registry. onActive is invoked after
// every active-session change to tear down and rebuild the dependent
// stores; fresh is true when the session was just created locally.
func NewRegistry(backend Backend, local LocalStore, userID string, onActive func(sessionID string, fresh bool)) *Registry {
	return &Registry{
		backend:  backend,
		local:    local,
		userID:   userID,
		onActive: onActive,
		deleting: make(map[string]bool),
	}
}

// Load builds the merged session list and resolves the initial active
// session. This is the sole bootstrap path: it never returns without
// an active session.
func (r *Registry) Load(ctx context.Context) error {
	server, err := r.backend.ListSessions(ctx, r.userID)
	if err != nil {
		slog.Warn("Failed to fetch sessions from server", "error", err)
		server = nil
	}

	cached, hasCache, err := r.local.Sessions()
	if err != nil {
		slog.Warn("Failed to read local session cache", "error", err)
		hasCache = false
	}

	merged := mergeSessions(server, cached, hasCache)
	sortByRecency(merged)

	r.mu.Lock()
	r.sessions = merged
	r.mu.Unlock()
	r.persistSessions()

	storedActive, err := r.local.ActiveSession()
	if err != nil {
		slog.Warn("Failed to read stored active session", "error", err)
	}
	if storedActive != "" && r.lookup(storedActive) != nil {
		r.activate(storedActive, false)
		return nil
	}

	r.Create(ctx)
	return nil
}

// mergeSessions applies the reconciliation rule: with a local cache the
// merged set is the intersection by id, so sessions the user deleted
// while offline cannot resurrect from the server copy. Without a cache
// the server set is authoritative.
func mergeSessions(server, cached []*domain.Session, hasCache bool) []*domain.Session {
	if !hasCache {
		return server
	}
	if server == nil {
		return cached
	}
	local := make(map[string]bool, len(cached))
	for _, s := range cached {
		local[s.ID] = true
	}
	var merged []*domain.Session
	for _, s := range server {
		if local[s.ID] {
			merged = append(merged, s)
		}
	}
	return merged
}

func sortByRecency(sessions []*domain.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

// List returns the sessions ordered by recency, newest first.
func (r *Registry) List() []*domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// ActiveID returns the id of the active session.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Create generates a new session locally and activates it, then
// informs the server in the background. A server failure is logged,
// never surfaced: the local session stands.
func (r *Registry) Create(ctx context.Context) *domain.Session {
	now := time.Now()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		Name:      domain.DefaultSessionName(now),
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.sessions = append([]*domain.Session{sess}, r.sessions...)
	r.mu.Unlock()
	r.persistSessions()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		callCtx, cancel := context.WithTimeout(context.Background(), serverCallTimeout)
		defer cancel()
		if err := r.backend.CreateSession(callCtx, r.userID, sess); err != nil {
			slog.Warn("Failed to mirror session create to server", "session_id", sess.ID, "error", err)
		}
	}()

	r.activate(sess.ID, true)
	return sess
}

// SwitchActive activates a known session. Unknown ids are ignored.
func (r *Registry) SwitchActive(id string) {
	if r.lookup(id) == nil {
		slog.Warn("Ignoring switch to unknown session", "session_id", id)
		return
	}
	r.activate(id, false)
}

// Rename updates a session's display name. Empty or whitespace-only
// names are a no-op. The local rename is kept even when the server
// update fails: a stale label beats a label that flickers back.
func (r *Registry) Rename(id, name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	sess := r.lookup(id)
	if sess == nil {
		return
	}

	r.mu.Lock()
	sess.Name = name
	sess.UpdatedAt = time.Now()
	r.mu.Unlock()
	r.persistSessions()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		callCtx, cancel := context.WithTimeout(context.Background(), serverCallTimeout)
		defer cancel()
		if err := r.backend.RenameSession(callCtx, id, name); err != nil {
			slog.Warn("Failed to mirror session rename to server", "session_id", id, "error", err)
		}
	}()
}

// Delete removes a session from the list regardless of server outcome.
// A delete already in flight suppresses a second invocation. Deleting
// the active session activates the most recently created survivor, or
// creates a new session when none remain.
func (r *Registry) Delete(ctx context.Context, id string) {
	r.mu.Lock()
	if r.deleting[id] {
		r.mu.Unlock()
		return
	}
	idx := -1
	for i, s := range r.sessions {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.deleting[id] = true
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	wasActive := r.activeID == id
	remaining := len(r.sessions)
	r.mu.Unlock()
	r.persistSessions()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		callCtx, cancel := context.WithTimeout(context.Background(), serverCallTimeout)
		defer cancel()
		if err := r.backend.DeleteSession(callCtx, id); err != nil {
			slog.Warn("Failed to mirror session delete to server", "session_id", id, "error", err)
		}
		r.mu.Lock()
		delete(r.deleting, id)
		r.mu.Unlock()
	}()

	if !wasActive {
		return
	}
	if remaining > 0 {
		next := r.mostRecent()
		if next != nil {
			r.activate(next.ID, false)
			return
		}
	}
	r.Create(ctx)
}

func (r *Registry) mostRecent() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *domain.Session
	for _, s := range r.sessions {
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	return best
}

func (r *Registry) lookup(id string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (r *Registry) activate(id string, fresh bool) {
	r.mu.Lock()
	r.activeID = id
	r.mu.Unlock()

	if err := r.local.SaveActiveSession(id); err != nil {
		slog.Warn("Failed to persist active session", "session_id", id, "error", err)
	}
	if r.onActive != nil {
		r.onActive(id, fresh)
	}
}

func (r *Registry) persistSessions() {
	r.mu.Lock()
	snapshot := make([]*domain.Session, len(r.sessions))
	copy(snapshot, r.sessions)
	r.mu.Unlock()
	if err := r.local.SaveSessions(snapshot); err != nil {
		slog.Warn("Failed to persist session list", "error", err)
	}
}

// Flush waits for in-flight server mirror calls. Test hook.
func (r *Registry) Flush() {
	r.wg.Wait()
}
