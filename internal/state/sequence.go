package state

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/wire"
)

// Reset is the one destructive sequence operation, so it retries a few
// times with a fixed delay instead of the channel's backoff.
const (
	resetAttempts   = 3
	resetRetryDelay = 500 * time.Millisecond
)

// SequenceStore holds the working copy of the active session's sequence
// document. Like Transcript, an instance lives for exactly one session
// binding.
type SequenceStore struct {
	backend Backend
	channel sender
	clock   Clock
	session string
	userID  string

	mu     sync.Mutex
	doc    *domain.SequenceDocument
	dirty  bool
	closed bool
}

// NewSequenceStore creates the sequence store for a session binding.
// A nil clock means wall-clock delays.
func NewSequenceStore(backend Backend, channel sender, sessionID, userID string, clock Clock) *SequenceStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SequenceStore{
		backend: backend,
		channel: channel,
		clock:   clock,
		session: sessionID,
		userID:  userID,
	}
}

// Close marks the binding dead; subsequent pushes are discarded.
func (s *SequenceStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Document returns a copy of the working document, nil when the session
// has none.
func (s *SequenceStore) Document() *domain.SequenceDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Dirty reports whether the working copy has unsaved edits.
func (s *SequenceStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Load fetches the session's persisted document. A nil document is a
// valid result: the session simply has no sequence yet. Fetch failure
// keeps the current working copy. Fetched documents are normalized so
// partially populated steps render fully.
func (s *SequenceStore) Load(ctx context.Context) {
	doc, err := s.backend.FetchSequence(ctx, s.session)
	if err != nil {
		slog.Warn("Failed to load sequence", "session_id", s.session, "error", err)
		return
	}
	doc.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.doc = doc
	s.dirty = false
}

// ApplyPush replaces the working copy with a server-pushed document.
// Last writer wins at document granularity: local unsaved edits are
// overwritten, not merged. A nil document clears the panel; a document
// that fails validation is dropped. Accepted documents are normalized
// so partially populated steps render fully.
func (s *SequenceStore) ApplyPush(doc *domain.SequenceDocument) {
	if doc != nil {
		if err := doc.Validate(); err != nil {
			slog.Warn("Dropping invalid pushed sequence", "session_id", s.session, "error", err)
			return
		}
		doc = doc.Clone()
		doc.Normalize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.doc = doc
	s.dirty = false
}

// EditField applies a single-field edit to the identified step.
func (s *SequenceStore) EditField(stepID, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return fmt.Errorf("no sequence to edit")
	}

	step := s.findStepLocked(stepID)
	if step == nil {
		return fmt.Errorf("unknown step %q", stepID)
	}

	switch field {
	case "subject":
		step.Subject = value
	case "message":
		step.Message = value
	case "channel":
		step.Channel = value
	case "timing":
		step.Timing = value
	case "day":
		day, err := strconv.Atoi(value)
		if err != nil || day < 0 {
			return fmt.Errorf("invalid day %q", value)
		}
		step.SetDay(day)
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	s.dirty = true
	return nil
}

// AddStep appends a step spaced after the current last one and returns
// its id. Step numbers are renumbered to stay contiguous.
func (s *SequenceStore) AddStep() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", fmt.Errorf("no sequence to add a step to")
	}

	day := 0
	if n := len(s.doc.Steps); n > 0 {
		day = s.doc.Steps[n-1].Day + domain.DefaultStepSpacing
	}
	step := domain.SequenceStep{
		ID:      domain.NewStepID(),
		Day:     day,
		Channel: domain.ChannelEmail,
		Timing:  domain.TimingForDay(day),
	}
	s.doc.Steps = append(s.doc.Steps, step)
	s.doc.Renumber()
	s.dirty = true
	return step.ID, nil
}

// RemoveStep deletes a step and renumbers the remainder.
func (s *SequenceStore) RemoveStep(stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return fmt.Errorf("no sequence to remove a step from")
	}

	for i, step := range s.doc.Steps {
		if step.ID == stepID {
			s.doc.Steps = append(s.doc.Steps[:i], s.doc.Steps[i+1:]...)
			s.doc.Renumber()
			s.dirty = true
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", stepID)
}

// Save validates the working copy and persists it through the request
// path, then broadcasts the saved document over the realtime channel
// when connected. Validation failure blocks the save entirely with a
// field-identifying error; the working copy and its dirty state are
// untouched. The dirty flag clears only after the server confirms the
// save, and a failed broadcast does not undo a confirmed save.
func (s *SequenceStore) Save(ctx context.Context) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return fmt.Errorf("no sequence to save")
	}
	doc := s.doc.Clone()
	s.mu.Unlock()

	if err := doc.ValidateForSave(); err != nil {
		return err
	}
	doc.Normalize()

	id, err := s.backend.SaveSequence(ctx, s.session, s.userID, doc)
	if err != nil {
		return fmt.Errorf("save sequence: %w", err)
	}
	if id != "" {
		doc.ID = id
	}

	if s.channel.Connected() {
		err := s.channel.Send(wire.SequenceEdit{
			SessionID:  s.session,
			SequenceID: doc.ID,
			Changes:    doc,
		})
		if err != nil {
			slog.Warn("Sequence broadcast failed after save", "session_id", s.session, "error", err)
		}
	}

	s.markSaved(doc)
	return nil
}

func (s *SequenceStore) markSaved(doc *domain.SequenceDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.doc = doc
	s.dirty = false
}

// Reset clears the session's persisted sequence. The server call is
// retried up to three times with a fixed delay; the local document is
// cleared only after the server confirms, so a failed reset never
// leaves the panel empty while the server still holds a document.
func (s *SequenceStore) Reset(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= resetAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(resetRetryDelay):
			}
		}

		if lastErr = s.backend.ResetSequence(ctx, s.session); lastErr == nil {
			s.mu.Lock()
			if !s.closed {
				s.doc = nil
				s.dirty = false
			}
			s.mu.Unlock()
			return nil
		}
		slog.Warn("Sequence reset failed", "session_id", s.session, "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("reset sequence after %d attempts: %w", resetAttempts, lastErr)
}

func (s *SequenceStore) findStepLocked(stepID string) *domain.SequenceStep {
	for i := range s.doc.Steps {
		if s.doc.Steps[i].ID == stepID {
			return &s.doc.Steps[i]
		}
	}
	return nil
}
