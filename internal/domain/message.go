package domain

import "time"

// Message roles as stored and sent over the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ChatMessage is one entry in a session transcript. Streaming marks a
// client-side placeholder awaiting assistant content; it is never
// persisted or transmitted.
type ChatMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	Streaming bool   `json:"-"`
}

// StoredMessage is a persisted transcript entry, including the tool-call
// metadata the assistant attached to it (opaque JSON, kept for replay).
type StoredMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolCalls string    `json:"tool_calls,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
