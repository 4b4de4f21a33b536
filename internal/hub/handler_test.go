package hub

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/agent"
	"github.com/cadencehq/cadence/internal/cache"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/wire"
	"github.com/coder/websocket"
)

func newTestHub(t *testing.T) (*httptest.Server, store.Repository, cache.SequenceCache) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	rooms := NewRooms()
	seqCache := cache.NewMemory()
	effects := NewEffects(rooms, repo, seqCache)
	engine := agent.NewTemplate(repo, effects)
	handler := NewHandler(rooms, repo, seqCache, engine, "", true)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, repo, seqCache
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(srv.URL, "http://", "ws://", 1)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket.Dial() error: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wire.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ev, err := wire.DecodeServer(raw)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev wire.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Send(ctx, conn, ev); err != nil {
		t.Fatalf("send %s: %v", ev.EventName(), err)
	}
}

func TestConnectAndJoinPushesSequenceState(t *testing.T) {
	srv, repo, _ := newTestHub(t)

	doc := &domain.SequenceDocument{
		ID:    "seq_1",
		Title: "Existing",
		Steps: []domain.SequenceStep{{ID: "step_1", Channel: domain.ChannelEmail, Subject: "s", Message: "m"}},
	}
	if err := repo.SaveSequence(context.Background(), "sess-1", "u1", doc); err != nil {
		t.Fatalf("SaveSequence() error: %v", err)
	}

	conn := dialHub(t, srv)

	if _, ok := readEvent(t, conn).(wire.ConnectionStatus); !ok {
		t.Fatal("first event is not connection_status")
	}

	sendEvent(t, conn, wire.Join{SessionID: "sess-1"})

	joined, ok := readEvent(t, conn).(wire.RoomJoined)
	if !ok || joined.SessionID != "sess-1" {
		t.Fatalf("expected room_joined for sess-1, got %#v", joined)
	}
	update, ok := readEvent(t, conn).(wire.SequenceUpdate)
	if !ok {
		t.Fatal("expected sequence_update after join")
	}
	if update.Document == nil || update.Document.ID != "seq_1" {
		t.Errorf("join push = %#v, want the stored document", update.Document)
	}
}

func TestJoinWithoutSequencePushesNull(t *testing.T) {
	srv, _, _ := newTestHub(t)
	conn := dialHub(t, srv)
	readEvent(t, conn) // connection_status

	sendEvent(t, conn, wire.Join{SessionID: "sess-empty"})
	readEvent(t, conn) // room_joined

	update, ok := readEvent(t, conn).(wire.SequenceUpdate)
	if !ok {
		t.Fatal("expected sequence_update after join")
	}
	if update.Document != nil {
		t.Errorf("join push = %#v, want null for a sequence-less session", update.Document)
	}
}

func TestChatMessageDrivesToolLifecycle(t *testing.T) {
	srv, _, _ := newTestHub(t)
	conn := dialHub(t, srv)
	readEvent(t, conn) // connection_status

	sendEvent(t, conn, wire.Join{SessionID: "sess-1"})
	readEvent(t, conn) // room_joined
	readEvent(t, conn) // initial sequence_update

	sendEvent(t, conn, wire.ChatSend{
		SessionID: "sess-1",
		Message:   "create a sequence for Engineers at Acme",
		UserID:    "u1",
	})

	seen := make(map[string]bool)
	var reply wire.ChatMessage
	for i := 0; i < 8; i++ {
		ev := readEvent(t, conn)
		seen[ev.EventName()] = true
		if msg, ok := ev.(wire.ChatMessage); ok {
			reply = msg
			break
		}
	}

	for _, want := range []string{"message_received", "tool_call_start", "sequence_update", "tool_call_end", "chat_message"} {
		if !seen[want] {
			t.Errorf("event %q never arrived (saw %v)", want, seen)
		}
	}
	if reply.Role != domain.RoleAssistant || !strings.Contains(reply.Content, "outreach sequence") {
		t.Errorf("assistant reply = %#v, want the generated-sequence summary", reply)
	}
}

func TestSequenceEditPersistsAndAcks(t *testing.T) {
	srv, repo, _ := newTestHub(t)
	conn := dialHub(t, srv)
	readEvent(t, conn) // connection_status

	sendEvent(t, conn, wire.Join{SessionID: "sess-1"})
	readEvent(t, conn) // room_joined
	readEvent(t, conn) // initial sequence_update

	doc := &domain.SequenceDocument{
		ID:    "seq_edit",
		Title: "Edited",
		Steps: []domain.SequenceStep{{ID: "step_1", Channel: domain.ChannelEmail, Subject: "s", Message: "edited body"}},
	}
	sendEvent(t, conn, wire.SequenceEdit{SessionID: "sess-1", SequenceID: "seq_edit", Changes: doc})

	ack, ok := readEvent(t, conn).(wire.EditReceived)
	if !ok || ack.SequenceID != "seq_edit" {
		t.Fatalf("expected edit_received ack, got %#v", ack)
	}
	update, ok := readEvent(t, conn).(wire.SequenceUpdate)
	if !ok || update.Document == nil || update.Document.Steps[0].Message != "edited body" {
		t.Fatalf("rebroadcast = %#v, want the edited document", update)
	}

	stored, err := repo.LatestSequence(context.Background(), "sess-1")
	if err != nil || stored == nil || stored.ID != "seq_edit" {
		t.Errorf("stored sequence = (%#v, %v), want the edit persisted", stored, err)
	}
}

func TestInvalidEventsGetErrorResponses(t *testing.T) {
	srv, _, _ := newTestHub(t)
	conn := dialHub(t, srv)
	readEvent(t, conn) // connection_status

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"event":"bogus"}`)); err != nil {
		t.Fatalf("write raw frame: %v", err)
	}

	errEv, ok := readEvent(t, conn).(wire.Error)
	if !ok {
		t.Fatal("expected an error event for an unknown frame")
	}
	if errEv.Message == "" {
		t.Error("error event has no message")
	}

	sendEvent(t, conn, wire.Join{SessionID: ""})
	if errEv, ok := readEvent(t, conn).(wire.Error); !ok || errEv.Message == "" {
		t.Error("expected an error event for a join without session_id")
	}
}

func TestRoomsMembership(t *testing.T) {
	rooms := NewRooms()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	rooms.Join("s1", conn1)
	rooms.Join("s1", conn2)
	rooms.Join("s2", conn1)

	if got := rooms.Members("s1"); got != 2 {
		t.Errorf("Members(s1) = %d, want 2", got)
	}

	rooms.Leave("s1", conn1)
	if got := rooms.Members("s1"); got != 1 {
		t.Errorf("Members(s1) after leave = %d, want 1", got)
	}

	rooms.LeaveAll(conn2)
	if got := rooms.Members("s1"); got != 0 {
		t.Errorf("Members(s1) after LeaveAll = %d, want 0", got)
	}
	if got := rooms.Members("s2"); got != 1 {
		t.Errorf("Members(s2) = %d, want conn1 still joined", got)
	}
}
