package state

import (
	"context"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/wire"
)

func newTestApp(backend *fakeBackend, local *fakeLocal) *App {
	return NewApp(backend, local, "ws://test/ws",
		WithAppClock(&instantClock{}),
		WithChannelOptions(
			WithDialer(&scriptDialer{}), // never connects; sends use the fallback
			WithClock(&instantClock{}),
			WithRetryPolicy(RetryPolicy{MaxAttempts: 1}),
		),
	)
}

func TestStartBootstrapsProfileAndSession(t *testing.T) {
	backend := newFakeBackend()
	backend.appCfg = &domain.AppConfig{WelcomeMessage: "Hi! Tell me who you want to reach."}
	local := &fakeLocal{}
	app := newTestApp(backend, local)
	defer app.Close()

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if app.Profile() == "" {
		t.Error("no user profile after Start")
	}
	if app.ActiveSessionID() == "" {
		t.Error("no active session after Start")
	}

	stored, err := local.Profile()
	if err != nil || stored == nil {
		t.Fatalf("profile not persisted: %v", err)
	}

	messages := app.Messages()
	if len(messages) != 1 || messages[0].Content != "Hi! Tell me who you want to reach." {
		t.Errorf("messages = %#v, want the seeded welcome entry", messages)
	}
}

func TestStartReusesStoredProfile(t *testing.T) {
	backend := newFakeBackend()
	local := &fakeLocal{profile: &domain.User{ID: "user-stable", Name: "Taylor"}}
	app := newTestApp(backend, local)
	defer app.Close()

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if app.Profile() != "user-stable" {
		t.Errorf("Profile() = %q, want the stored id", app.Profile())
	}
}

func TestHandleEventRoutesToolLifecycle(t *testing.T) {
	backend := newFakeBackend()
	app := newTestApp(backend, &fakeLocal{})
	defer app.Close()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	app.HandleEvent(wire.ToolCallStart{Tool: "generate_sequence"})
	if ts := app.ToolState(); !ts.Running || ts.Tool != "generate_sequence" {
		t.Errorf("ToolState() = %+v, want running generate_sequence", ts)
	}

	app.HandleEvent(wire.ToolCallEnd{Tool: "generate_sequence"})
	if ts := app.ToolState(); ts.Running {
		t.Errorf("ToolState() = %+v, want idle after tool end", ts)
	}

	app.HandleEvent(wire.ToolCallError{Tool: "generate_sequence", Error: "model unavailable"})
	if ts := app.ToolState(); ts.Err != "model unavailable" {
		t.Errorf("ToolState() = %+v, want the failure message", ts)
	}
}

func TestToolErrorClearsPendingReply(t *testing.T) {
	backend := newFakeBackend()
	backend.sendReply = "reply that never arrives"
	backend.sendStarted = make(chan struct{})
	backend.sendRelease = make(chan struct{})
	app := newTestApp(backend, &fakeLocal{})
	defer app.Close()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := app.SendMessage(context.Background(), "draft a sequence"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	<-backend.sendStarted
	if !app.Generating() {
		t.Fatal("no pending reply after the send started")
	}

	app.HandleEvent(wire.ToolCallError{Tool: "generate_sequence", Error: "model unavailable"})

	if app.Generating() {
		t.Error("still generating after the tool error; input stays disabled")
	}
	messages := app.Messages()
	if len(messages) == 0 || messages[len(messages)-1].Content != "model unavailable" {
		t.Errorf("messages = %#v, want the tool error surfaced as the last entry", messages)
	}
	for _, m := range messages {
		if m.Streaming {
			t.Error("streaming placeholder survived the tool error")
		}
	}
	close(backend.sendRelease)
}

func TestHandleEventRoutesSequencePush(t *testing.T) {
	backend := newFakeBackend()
	app := newTestApp(backend, &fakeLocal{})
	defer app.Close()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	app.HandleEvent(wire.SequenceUpdate{Document: testDoc()})
	if doc := app.Sequence(); doc == nil || doc.ID != "seq_test" {
		t.Errorf("Sequence() = %#v, want the pushed document", doc)
	}

	app.HandleEvent(wire.SequenceUpdate{Document: nil})
	if app.Sequence() != nil {
		t.Error("Sequence() != nil after a null push")
	}
}

func TestHandleEventRoutesAssistantReply(t *testing.T) {
	backend := newFakeBackend()
	app := newTestApp(backend, &fakeLocal{})
	defer app.Close()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	app.HandleEvent(wire.ChatMessage{Role: domain.RoleAssistant, Content: "drafted it"})

	messages := app.Messages()
	if len(messages) == 0 || messages[len(messages)-1].Content != "drafted it" {
		t.Errorf("messages = %#v, want the assistant reply appended", messages)
	}
}

func TestSessionSwitchIsolatesLateCompletions(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions = append(backend.sessions,
		testSession("sess-a", "A", time.Hour),
		testSession("sess-b", "B", time.Minute),
	)
	local := &fakeLocal{active: "sess-a"}
	backend.sendReply = "late reply for the old session"
	backend.sendStarted = make(chan struct{})
	backend.sendRelease = make(chan struct{})

	app := newTestApp(backend, local)
	defer app.Close()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if app.ActiveSessionID() != "sess-a" {
		t.Fatalf("active = %q, want sess-a", app.ActiveSessionID())
	}

	// The channel never connects, so the send takes the fallback path
	// and blocks inside the fake backend.
	if err := app.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	<-backend.sendStarted

	app.SwitchSession("sess-b")
	close(backend.sendRelease)

	// Give the in-flight completion a moment to (incorrectly) land.
	time.Sleep(50 * time.Millisecond)

	for _, m := range app.Messages() {
		if m.Content == "late reply for the old session" {
			t.Fatal("completion from the previous session leaked into the new transcript")
		}
	}
	if app.Generating() {
		t.Error("new session inherited the previous session's pending send")
	}
}

func TestSwitchSessionRebuildsStores(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions = append(backend.sessions,
		testSession("sess-a", "A", time.Hour),
		testSession("sess-b", "B", time.Minute),
	)
	local := &fakeLocal{active: "sess-a"}
	app := newTestApp(backend, local)
	defer app.Close()
	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	app.HandleEvent(wire.SequenceUpdate{Document: testDoc()})
	app.HandleEvent(wire.ToolCallStart{Tool: "generate_sequence"})

	app.SwitchSession("sess-b")

	if app.Sequence() != nil {
		t.Error("sequence from the previous session visible after switch")
	}
	if app.ToolState().Running {
		t.Error("tool indicator still running after switch")
	}
	if active, _ := local.ActiveSession(); active != "sess-b" {
		t.Errorf("persisted active = %q, want sess-b", active)
	}
}
