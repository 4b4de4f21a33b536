package state

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/wire"
)

// Errors returned by AppendUserMessage.
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendPending  = errors.New("a send is already pending")
)

// Names longer than this are truncated when a first message becomes
// the session name.
const autoRenameLimit = 30

// sender is the outbound half of the realtime channel.
type sender interface {
	Connected() bool
	Send(ev wire.Event) error
}

// Transcript is the ordered message log for one session binding. A
// new Transcript is built on every session switch; the old instance is
// closed so late-arriving completions land on dead state instead of
// the newly active session.
type Transcript struct {
	backend  Backend
	channel  sender
	registry *Registry
	session  string
	userID   string

	mu         sync.Mutex
	messages   []domain.ChatMessage
	generating bool
	autoRename bool
	closed     bool
}

// NewTranscript creates the transcript store for a session binding.
// fresh enables the one-shot automatic rename from the first message.
func NewTranscript(backend Backend, channel sender, registry *Registry, sessionID, userID string, fresh bool) *Transcript {
	return &Transcript{
		backend:    backend,
		channel:    channel,
		registry:   registry,
		session:    sessionID,
		userID:     userID,
		autoRename: fresh,
	}
}

// Close marks the binding dead; subsequent completions are discarded.
func (t *Transcript) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Messages returns a snapshot of the transcript.
func (t *Transcript) Messages() []domain.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// Generating reports whether an assistant reply is pending.
func (t *Transcript) Generating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.generating
}

// LoadHistory replaces the transcript wholesale with the fetched log,
// filtered to user and assistant roles. Fetch failure leaves the
// transcript unchanged and is non-fatal.
func (t *Transcript) LoadHistory(ctx context.Context) {
	history, err := t.backend.ChatHistory(ctx, t.session)
	if err != nil {
		slog.Warn("Failed to load chat history", "session_id", t.session, "error", err)
		return
	}

	filtered := make([]domain.ChatMessage, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleUser || m.Role == domain.RoleAssistant {
			filtered = append(filtered, m)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.messages = filtered
}

// SeedWelcome prepends the configured welcome entry to an empty
// transcript. Called once at session creation.
func (t *Transcript) SeedWelcome(message string) {
	if message == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.messages) > 0 {
		return
	}
	t.messages = append(t.messages, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// AppendUserMessage applies the message optimistically and dispatches
// it over exactly one delivery path: the realtime channel when
// connected, the request fallback otherwise — never both, so a single
// message can never produce two assistant replies.
func (t *Transcript) AppendUserMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	if t.generating {
		t.mu.Unlock()
		return ErrSendPending
	}
	t.messages = append(t.messages,
		domain.ChatMessage{
			Role:      domain.RoleUser,
			Content:   text,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Streaming: true,
		},
	)
	t.generating = true
	rename := t.autoRename
	t.autoRename = false
	t.mu.Unlock()

	if rename {
		t.registry.Rename(t.session, autoName(text))
	}

	if t.channel.Connected() {
		if err := t.channel.Send(wire.ChatSend{
			SessionID: t.session,
			Message:   text,
			UserID:    t.userID,
		}); err != nil {
			// The path was chosen; falling back now could deliver the
			// message twice. Surface the failure instead.
			slog.Error("Realtime send failed", "session_id", t.session, "error", err)
			t.AppendError("Failed to send message. Please try again.")
		}
		return nil
	}

	go t.sendFallback(text)
	return nil
}

// sendFallback delivers via the request path. The response body carries
// the assistant reply.
func (t *Transcript) sendFallback(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reply, err := t.backend.SendChat(ctx, t.session, t.userID, text)
	if err != nil {
		slog.Error("Fallback send failed", "session_id", t.session, "error", err)
		t.AppendError("Failed to send message. Please try again.")
		return
	}
	t.ReceiveAssistantMessage(reply)
}

// ReceiveAssistantMessage removes any streaming placeholder, appends
// the final reply, and clears the generating flag.
func (t *Transcript) ReceiveAssistantMessage(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.dropPlaceholderLocked()
	t.messages = append(t.messages, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	t.generating = false
}

// AppendError adds a user-visible error entry and clears any pending
// placeholder so input is not left permanently disabled.
func (t *Transcript) AppendError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.dropPlaceholderLocked()
	t.messages = append(t.messages, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	t.generating = false
}

// ClearGenerating drops the placeholder without appending anything.
func (t *Transcript) ClearGenerating() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropPlaceholderLocked()
	t.generating = false
}

func (t *Transcript) dropPlaceholderLocked() {
	kept := t.messages[:0]
	for _, m := range t.messages {
		if !m.Streaming {
			kept = append(kept, m)
		}
	}
	t.messages = kept
}

// autoName derives a session name from the first message: at most 30
// characters, ellipsis-suffixed when truncated.
func autoName(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= autoRenameLimit {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:autoRenameLimit])) + "..."
}
