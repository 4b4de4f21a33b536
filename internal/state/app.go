package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/wire"
	"github.com/google/uuid"
)

// loadTimeout bounds the background fetches kicked off on a session
// switch.
const loadTimeout = 15 * time.Second

// App wires the registry, channel, and per-session stores together.
// It is the single EventSink for the realtime channel: every inbound
// event is routed to whichever store owns it, and a session switch
// swaps in fresh store instances so nothing from the previous binding
// can leak into the new one.
type App struct {
	backend Backend
	local   LocalStore
	wsURL   string
	clock   Clock

	channelOpts  []ChannelOption
	onConnection func(state ConnectionState, status string)

	registry *Registry
	channel  *Channel
	activity *Activity

	userID string
	appCfg *domain.AppConfig

	mu         sync.Mutex
	transcript *Transcript
	sequence   *SequenceStore
}

// AppOption customizes an App.
type AppOption func(*App)

// WithChannelOptions forwards options to the realtime channel.
func WithChannelOptions(opts ...ChannelOption) AppOption {
	return func(a *App) { a.channelOpts = opts }
}

// WithAppClock injects the clock used for sequence reset retries.
func WithAppClock(clk Clock) AppOption {
	return func(a *App) { a.clock = clk }
}

// WithConnectionListener registers a callback for connection state
// transitions, for interfaces that render a status line.
func WithConnectionListener(fn func(state ConnectionState, status string)) AppOption {
	return func(a *App) { a.onConnection = fn }
}

// NewApp creates the application core. Call Start to bootstrap.
func NewApp(backend Backend, local LocalStore, wsURL string, opts ...AppOption) *App {
	a := &App{
		backend:  backend,
		local:    local,
		wsURL:    wsURL,
		clock:    SystemClock{},
		activity: NewActivity(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.registry = NewRegistry(backend, local, "", a.onActive)
	a.channel = NewChannel(wsURL, a, a.channelOpts...)
	return a
}

// Start bootstraps the core: resolve the user profile, fetch display
// configuration, then build the session list and activate a session.
// After Start returns there is always exactly one active session.
func (a *App) Start(ctx context.Context) error {
	profile, err := a.local.Profile()
	if err != nil {
		slog.Warn("Failed to read stored profile", "error", err)
	}
	if profile == nil {
		profile = &domain.User{
			ID:        uuid.NewString(),
			Name:      "Outreach User",
			CreatedAt: time.Now(),
		}
		if err := a.local.SaveProfile(profile); err != nil {
			slog.Warn("Failed to persist profile", "error", err)
		}
	}
	a.userID = profile.ID
	a.registry.userID = profile.ID

	if cfg, err := a.backend.FetchAppConfig(ctx); err != nil {
		slog.Warn("Failed to fetch app configuration", "error", err)
	} else {
		a.appCfg = cfg
	}

	if err := a.registry.Load(ctx); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	return nil
}

// Close tears down the channel and waits for in-flight server calls.
func (a *App) Close() {
	a.channel.Close()
	a.mu.Lock()
	if a.transcript != nil {
		a.transcript.Close()
	}
	if a.sequence != nil {
		a.sequence.Close()
	}
	a.mu.Unlock()
	a.registry.Flush()
}

// onActive rebuilds the per-session stores for the newly active
// session. Old instances are closed first so in-flight completions
// bound to them are discarded rather than applied to the new session.
func (a *App) onActive(sessionID string, fresh bool) {
	a.mu.Lock()
	if a.transcript != nil {
		a.transcript.Close()
	}
	if a.sequence != nil {
		a.sequence.Close()
	}
	transcript := NewTranscript(a.backend, a.channel, a.registry, sessionID, a.userID, fresh)
	sequence := NewSequenceStore(a.backend, a.channel, sessionID, a.userID, a.clock)
	a.transcript = transcript
	a.sequence = sequence
	a.mu.Unlock()
	a.activity.Reset()

	a.channel.Bind(sessionID)

	if fresh {
		if a.appCfg != nil {
			transcript.SeedWelcome(a.appCfg.WelcomeMessage)
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		transcript.LoadHistory(ctx)
		sequence.Load(ctx)
	}()
}

// stores returns the live per-session instances.
func (a *App) stores() (*Transcript, *SequenceStore) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript, a.sequence
}

// HandleEvent routes a decoded server event to the store that owns it.
func (a *App) HandleEvent(ev wire.Event) {
	transcript, sequence := a.stores()
	if transcript == nil || sequence == nil {
		return
	}

	switch e := ev.(type) {
	case wire.ChatMessage:
		if e.Role == domain.RoleAssistant {
			transcript.ReceiveAssistantMessage(e.Content)
		} else {
			slog.Debug("Ignoring non-assistant chat broadcast", "role", e.Role)
		}
	case wire.SequenceUpdate:
		sequence.ApplyPush(e.Document)
	case wire.ToolCallStart:
		a.activity.Start(e.Tool)
	case wire.ToolCallEnd:
		a.activity.Finish(e.Tool)
	case wire.ToolCallError:
		a.activity.Fail(e.Tool, e.Error)
		// A failed tool also ends the pending reply; surface it so the
		// composer is re-enabled.
		msg := e.Error
		if msg == "" {
			msg = fmt.Sprintf("The %s tool failed. Please try again.", e.Tool)
		}
		transcript.AppendError(msg)
	case wire.Error:
		transcript.AppendError(e.Message)
	case wire.ConnectionStatus, wire.RoomJoined, wire.MessageReceived,
		wire.EditReceived, wire.SessionReady:
		slog.Debug("Channel acknowledgement", "event", ev.EventName())
	default:
		slog.Debug("Unhandled server event", "event", ev.EventName())
	}
}

// ConnectionChanged implements EventSink.
func (a *App) ConnectionChanged(state ConnectionState, status string) {
	slog.Debug("Connection state changed", "state", state, "status", status)
	if a.onConnection != nil {
		a.onConnection(state, status)
	}
}

// Sessions returns the known sessions, newest first.
func (a *App) Sessions() []*domain.Session {
	return a.registry.List()
}

// ActiveSessionID returns the id of the active session.
func (a *App) ActiveSessionID() string {
	return a.registry.ActiveID()
}

// NewSession creates and activates a session.
func (a *App) NewSession(ctx context.Context) *domain.Session {
	sess := a.registry.Create(ctx)
	if err := a.channel.Send(wire.NewSession{SessionID: sess.ID}); err != nil {
		slog.Debug("New-session announce skipped", "error", err)
	}
	return sess
}

// SwitchSession activates a known session.
func (a *App) SwitchSession(id string) {
	a.registry.SwitchActive(id)
}

// RenameSession changes a session's display name.
func (a *App) RenameSession(id, name string) {
	a.registry.Rename(id, name)
}

// DeleteSession removes a session.
func (a *App) DeleteSession(ctx context.Context, id string) {
	a.registry.Delete(ctx, id)
}

// SendMessage appends a user message to the active transcript and
// dispatches it.
func (a *App) SendMessage(ctx context.Context, text string) error {
	transcript, _ := a.stores()
	if transcript == nil {
		return fmt.Errorf("no active session")
	}
	return transcript.AppendUserMessage(ctx, text)
}

// Messages returns the active transcript.
func (a *App) Messages() []domain.ChatMessage {
	transcript, _ := a.stores()
	if transcript == nil {
		return nil
	}
	return transcript.Messages()
}

// Generating reports whether an assistant reply is pending.
func (a *App) Generating() bool {
	transcript, _ := a.stores()
	return transcript != nil && transcript.Generating()
}

// Sequence returns a copy of the active session's working document.
func (a *App) Sequence() *domain.SequenceDocument {
	_, sequence := a.stores()
	if sequence == nil {
		return nil
	}
	return sequence.Document()
}

// EditSequenceField edits one field of one step in the working copy.
func (a *App) EditSequenceField(stepID, field, value string) error {
	_, sequence := a.stores()
	if sequence == nil {
		return fmt.Errorf("no active session")
	}
	return sequence.EditField(stepID, field, value)
}

// AddSequenceStep appends a step to the working copy.
func (a *App) AddSequenceStep() (string, error) {
	_, sequence := a.stores()
	if sequence == nil {
		return "", fmt.Errorf("no active session")
	}
	return sequence.AddStep()
}

// RemoveSequenceStep removes a step from the working copy.
func (a *App) RemoveSequenceStep(stepID string) error {
	_, sequence := a.stores()
	if sequence == nil {
		return fmt.Errorf("no active session")
	}
	return sequence.RemoveStep(stepID)
}

// SaveSequence validates and persists the working copy.
func (a *App) SaveSequence(ctx context.Context) error {
	_, sequence := a.stores()
	if sequence == nil {
		return fmt.Errorf("no active session")
	}
	return sequence.Save(ctx)
}

// ResetSequence clears the active session's sequence.
func (a *App) ResetSequence(ctx context.Context) error {
	_, sequence := a.stores()
	if sequence == nil {
		return fmt.Errorf("no active session")
	}
	return sequence.Reset(ctx)
}

// ToolState returns the tool-activity snapshot.
func (a *App) ToolState() ToolActivity {
	return a.activity.Snapshot()
}

// Connection returns the channel state and status line.
func (a *App) Connection() (ConnectionState, string) {
	return a.channel.State()
}

// RetryConnection restarts the connect loop after the retry ceiling.
func (a *App) RetryConnection() {
	a.channel.Retry()
}

// Config returns the fetched display configuration, nil when the fetch
// failed.
func (a *App) Config() *domain.AppConfig {
	return a.appCfg
}

// Profile returns the stored user id.
func (a *App) Profile() string {
	return a.userID
}
