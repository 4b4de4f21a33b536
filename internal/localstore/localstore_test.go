package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func TestSessionsDistinguishesMissingCacheFromEmpty(t *testing.T) {
	s := newTestStore(t)

	_, hasCache, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error: %v", err)
	}
	if hasCache {
		t.Error("fresh store reports a cache, want none")
	}

	if err := s.SaveSessions(nil); err != nil {
		t.Fatalf("SaveSessions(nil) error: %v", err)
	}
	sessions, hasCache, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error: %v", err)
	}
	if !hasCache {
		t.Error("store reports no cache after an explicit empty save")
	}
	if len(sessions) != 0 {
		t.Errorf("Sessions() = %d entries, want 0", len(sessions))
	}
}

func TestSaveSessionsReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)

	first := []*domain.Session{
		{ID: "a", Name: "A", CreatedAt: now, UpdatedAt: now},
		{ID: "b", Name: "B", CreatedAt: now, UpdatedAt: now},
	}
	if err := s.SaveSessions(first); err != nil {
		t.Fatalf("SaveSessions() error: %v", err)
	}
	if err := s.SaveSessions(first[:1]); err != nil {
		t.Fatalf("SaveSessions(subset) error: %v", err)
	}

	sessions, _, err := s.Sessions()
	if err != nil {
		t.Fatalf("Sessions() error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "a" {
		t.Errorf("Sessions() = %v, want only the re-saved entry", sessions)
	}
	if !sessions[0].CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v preserved through the round trip", sessions[0].CreatedAt, now)
	}
}

func TestActiveSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)

	id, err := s.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession() error: %v", err)
	}
	if id != "" {
		t.Errorf("ActiveSession() on fresh store = %q, want empty", id)
	}

	if err := s.SaveActiveSession("sess-1"); err != nil {
		t.Fatalf("SaveActiveSession() error: %v", err)
	}
	if err := s.SaveActiveSession("sess-2"); err != nil {
		t.Fatalf("SaveActiveSession() error: %v", err)
	}

	id, err = s.ActiveSession()
	if err != nil {
		t.Fatalf("ActiveSession() error: %v", err)
	}
	if id != "sess-2" {
		t.Errorf("ActiveSession() = %q, want the latest save", id)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)

	profile, err := s.Profile()
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if profile != nil {
		t.Errorf("Profile() on fresh store = %#v, want nil", profile)
	}

	u := &domain.User{ID: "u1", Name: "Taylor", Email: "taylor@example.com"}
	if err := s.SaveProfile(u); err != nil {
		t.Fatalf("SaveProfile() error: %v", err)
	}

	got, err := s.Profile()
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if got == nil || got.ID != "u1" || got.Email != "taylor@example.com" {
		t.Errorf("Profile() = %#v, want the saved profile", got)
	}
}
