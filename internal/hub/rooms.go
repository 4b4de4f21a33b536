// Package hub provides the realtime websocket surface: session rooms,
// event dispatch, and fan-out of assistant effects to connected clients.
package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cadencehq/cadence/internal/wire"
	"github.com/coder/websocket"
)

// Rooms tracks which connections are joined to which session.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]struct{}
}

// NewRooms creates an empty room registry.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[*websocket.Conn]struct{})}
}

// Join adds a connection to a session room.
func (r *Rooms) Join(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[sessionID]; !ok {
		r.rooms[sessionID] = make(map[*websocket.Conn]struct{})
	}
	r.rooms[sessionID][conn] = struct{}{}
	slog.Info("Client joined room", "session_id", sessionID)
}

// Leave removes a connection from a session room.
func (r *Rooms) Leave(sessionID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conns, ok := r.rooms[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.rooms, sessionID)
		}
	}
}

// LeaveAll removes a connection from every room it joined. Called on
// disconnect.
func (r *Rooms) LeaveAll(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, conns := range r.rooms {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(r.rooms, sessionID)
			}
		}
	}
}

// Members returns the number of connections in a session room.
func (r *Rooms) Members(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// Broadcast sends an event to every connection in a session room.
func (r *Rooms) Broadcast(ctx context.Context, sessionID string, ev wire.Event) {
	data, err := wire.Encode(ev)
	if err != nil {
		slog.Error("Failed to encode broadcast event", "event", ev.EventName(), "error", err)
		return
	}

	r.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(r.rooms[sessionID]))
	for conn := range r.rooms[sessionID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Broadcast write failed", "session_id", sessionID, "event", ev.EventName(), "error", err)
		}
	}
}

// Send delivers an event to a single connection.
func Send(ctx context.Context, conn *websocket.Conn, ev wire.Event) error {
	data, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
