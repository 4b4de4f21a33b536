// Package wire defines the realtime event protocol shared by the hub
// and the client channel. Every frame is {"event": name, "data": {...}};
// payloads decode into tagged variants so unknown or malformed events
// are rejected at the single dispatch point instead of leaking through.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/cadencehq/cadence/internal/domain"
)

// Event is a decoded realtime frame. Implementations are the concrete
// payload types below.
type Event interface {
	EventName() string
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client-to-server events.

// Join asks the server to add this connection to a session room.
type Join struct {
	SessionID string `json:"session_id"`
}

// Leave removes this connection from a session room.
type Leave struct {
	SessionID string `json:"session_id"`
}

// ChatSend carries a user chat message into a session.
type ChatSend struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
}

// SequenceEdit broadcasts a locally saved sequence to other listeners
// of the same session.
type SequenceEdit struct {
	SessionID  string                   `json:"session_id"`
	SequenceID string                   `json:"sequence_id,omitempty"`
	Changes    *domain.SequenceDocument `json:"changes"`
}

// NewSession announces a freshly created session so the server can
// prepare room state before the first join.
type NewSession struct {
	SessionID string `json:"session_id"`
}

func (Join) EventName() string         { return "join" }
func (Leave) EventName() string        { return "leave" }
func (ChatSend) EventName() string     { return "chat_message" }
func (SequenceEdit) EventName() string { return "sequence_edit" }
func (NewSession) EventName() string   { return "new_session" }

// Server-to-client events.

// ConnectionStatus is emitted once the transport is accepted.
type ConnectionStatus struct {
	Status string `json:"status"`
}

// RoomJoined acknowledges a Join; session-scoped events follow.
type RoomJoined struct {
	SessionID string `json:"session_id"`
}

// ChatMessage delivers an assistant (or system) reply to the room.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageReceived acknowledges receipt of a ChatSend.
type MessageReceived struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// EditReceived acknowledges receipt of a SequenceEdit.
type EditReceived struct {
	Status     string `json:"status"`
	SequenceID string `json:"sequence_id,omitempty"`
}

// SequenceUpdate pushes the full current document for the room, or nil
// when the sequence has been cleared.
type SequenceUpdate struct {
	Document *domain.SequenceDocument
}

// ToolCallStart reports that the assistant began a long-running tool.
type ToolCallStart struct {
	Tool string `json:"tool"`
}

// ToolCallEnd reports that a tool finished.
type ToolCallEnd struct {
	Tool string `json:"tool,omitempty"`
}

// ToolCallError reports that a tool failed.
type ToolCallError struct {
	Tool  string `json:"tool,omitempty"`
	Error string `json:"error"`
}

// SessionReady acknowledges a NewSession.
type SessionReady struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Error is a server-reported channel error.
type Error struct {
	Message string `json:"message"`
}

func (ConnectionStatus) EventName() string { return "connection_status" }
func (RoomJoined) EventName() string       { return "room_joined" }
func (ChatMessage) EventName() string      { return "chat_message" }
func (MessageReceived) EventName() string  { return "message_received" }
func (EditReceived) EventName() string     { return "edit_received" }
func (SequenceUpdate) EventName() string   { return "sequence_update" }
func (ToolCallStart) EventName() string    { return "tool_call_start" }
func (ToolCallEnd) EventName() string      { return "tool_call_end" }
func (ToolCallError) EventName() string    { return "tool_call_error" }
func (SessionReady) EventName() string     { return "chat_session_ready" }
func (Error) EventName() string            { return "error" }

// Encode wraps an event in a frame for transmission.
func Encode(ev Event) ([]byte, error) {
	var data json.RawMessage
	var err error
	switch v := ev.(type) {
	case SequenceUpdate:
		// The document itself is the payload; nil encodes as null so
		// the client can distinguish "cleared" from a malformed frame.
		data, err = json.Marshal(v.Document)
	case *SequenceUpdate:
		data, err = json.Marshal(v.Document)
	default:
		data, err = json.Marshal(ev)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.EventName(), err)
	}
	return json.Marshal(frame{Event: ev.EventName(), Data: data})
}

// DecodeClient decodes a frame sent by a client. Unknown event names
// are an error, never a silent pass-through.
func DecodeClient(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Event {
	case "join":
		return decodeInto[Join](f)
	case "leave":
		return decodeInto[Leave](f)
	case "chat_message":
		return decodeInto[ChatSend](f)
	case "sequence_edit":
		return decodeInto[SequenceEdit](f)
	case "new_session":
		return decodeInto[NewSession](f)
	default:
		return nil, fmt.Errorf("unknown client event %q", f.Event)
	}
}

// DecodeServer decodes a frame sent by the server.
func DecodeServer(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Event {
	case "connection_status":
		return decodeInto[ConnectionStatus](f)
	case "room_joined":
		return decodeInto[RoomJoined](f)
	case "chat_message":
		return decodeInto[ChatMessage](f)
	case "message_received":
		return decodeInto[MessageReceived](f)
	case "edit_received":
		return decodeInto[EditReceived](f)
	case "sequence_update":
		var doc *domain.SequenceDocument
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &doc); err != nil {
				return nil, fmt.Errorf("decode sequence_update payload: %w", err)
			}
		}
		return SequenceUpdate{Document: doc}, nil
	case "tool_call_start":
		return decodeInto[ToolCallStart](f)
	case "tool_call_end":
		return decodeInto[ToolCallEnd](f)
	case "tool_call_error":
		return decodeInto[ToolCallError](f)
	case "chat_session_ready":
		return decodeInto[SessionReady](f)
	case "error":
		return decodeInto[Error](f)
	default:
		return nil, fmt.Errorf("unknown server event %q", f.Event)
	}
}

func decodeInto[T Event](f frame) (Event, error) {
	var v T
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
	}
	return v, nil
}
