package hub

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/agent"
	"github.com/cadencehq/cadence/internal/cache"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/wire"
	"github.com/coder/websocket"
)

// Handler accepts websocket connections and dispatches realtime events.
type Handler struct {
	rooms         *Rooms
	repo          store.Repository
	seqCache      cache.SequenceCache
	engine        agent.Engine
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a websocket handler. The engine may be nil when AI
// features are disabled; chat messages then get an error event.
func NewHandler(rooms *Rooms, repo store.Repository, seqCache cache.SequenceCache, engine agent.Engine, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		rooms:         rooms,
		repo:          repo,
		seqCache:      seqCache,
		engine:        engine,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		h.rooms.LeaveAll(ws)
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx := r.Context()
	if err := Send(ctx, ws, wire.ConnectionStatus{Status: "connected"}); err != nil {
		slog.Debug("Failed to send connection status", "error", err)
		return
	}

	h.readLoop(ctx, ws)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			} else {
				slog.Warn("WebSocket read error", "error", err)
			}
			return
		}

		ev, err := wire.DecodeClient(raw)
		if err != nil {
			slog.Warn("Dropping malformed client event", "error", err)
			h.sendError(ctx, ws, "invalid event")
			continue
		}

		switch ev := ev.(type) {
		case wire.Join:
			h.handleJoin(ctx, ws, ev)
		case wire.Leave:
			h.rooms.Leave(ev.SessionID, ws)
		case wire.NewSession:
			h.handleNewSession(ctx, ws, ev)
		case wire.ChatSend:
			h.handleChat(ctx, ws, ev)
		case wire.SequenceEdit:
			h.handleSequenceEdit(ctx, ws, ev)
		default:
			// DecodeClient only returns the variants above.
			slog.Warn("Unhandled client event", "event", ev.EventName())
		}
	}
}

// handleJoin adds the connection to the session room and pushes the
// current sequence state. The null push on absence matters: it gives
// the client a clean starting state after a session switch.
func (h *Handler) handleJoin(ctx context.Context, ws *websocket.Conn, ev wire.Join) {
	if ev.SessionID == "" {
		h.sendError(ctx, ws, "missing session_id")
		return
	}

	h.rooms.Join(ev.SessionID, ws)
	if err := Send(ctx, ws, wire.RoomJoined{SessionID: ev.SessionID}); err != nil {
		slog.Debug("Failed to send room_joined", "error", err)
		return
	}

	doc, err := h.seqCache.Get(ctx, ev.SessionID)
	if err != nil {
		slog.Warn("Sequence cache read failed", "session_id", ev.SessionID, "error", err)
	}
	if doc == nil {
		doc, err = h.repo.LatestSequence(ctx, ev.SessionID)
		if err != nil {
			slog.Error("Failed to load sequence on join", "session_id", ev.SessionID, "error", err)
		} else if doc != nil {
			if err := h.seqCache.Put(ctx, ev.SessionID, doc); err != nil {
				slog.Warn("Sequence cache write failed", "session_id", ev.SessionID, "error", err)
			}
		}
	}
	if err := Send(ctx, ws, wire.SequenceUpdate{Document: doc}); err != nil {
		slog.Debug("Failed to send sequence state on join", "error", err)
	}
}

func (h *Handler) handleNewSession(ctx context.Context, ws *websocket.Conn, ev wire.NewSession) {
	if ev.SessionID == "" {
		h.sendError(ctx, ws, "invalid session ID")
		return
	}
	h.rooms.Join(ev.SessionID, ws)
	if err := Send(ctx, ws, wire.SessionReady{SessionID: ev.SessionID, Status: "connected"}); err != nil {
		slog.Debug("Failed to send chat_session_ready", "error", err)
	}
}

// handleChat acknowledges receipt, then runs the engine in the
// background so the read loop keeps serving the connection. The reply
// is broadcast to the whole room, not just the sender.
func (h *Handler) handleChat(ctx context.Context, ws *websocket.Conn, ev wire.ChatSend) {
	if ev.SessionID == "" || strings.TrimSpace(ev.Message) == "" {
		h.sendError(ctx, ws, "invalid message data")
		return
	}
	if h.engine == nil {
		h.sendError(ctx, ws, "assistant unavailable")
		return
	}

	if err := Send(ctx, ws, wire.MessageReceived{Status: "received", Message: ev.Message}); err != nil {
		slog.Debug("Failed to ack chat message", "error", err)
	}

	go func() {
		procCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		reply, err := h.engine.ProcessMessage(procCtx, agent.Request{
			SessionID: ev.SessionID,
			UserID:    ev.UserID,
			Message:   ev.Message,
		})
		if err != nil {
			slog.Error("Engine failed to process message", "session_id", ev.SessionID, "error", err)
			h.rooms.Broadcast(procCtx, ev.SessionID, wire.ChatMessage{
				Role:    domain.RoleAssistant,
				Content: "I ran into a problem processing that message. Please try again.",
			})
			return
		}
		h.rooms.Broadcast(procCtx, ev.SessionID, wire.ChatMessage{
			Role:    domain.RoleAssistant,
			Content: reply,
		})
	}()
}

// handleSequenceEdit validates, persists, acknowledges, and rebroadcasts
// a client-saved sequence so every viewer of the session converges.
func (h *Handler) handleSequenceEdit(ctx context.Context, ws *websocket.Conn, ev wire.SequenceEdit) {
	if ev.SessionID == "" || ev.Changes == nil {
		h.sendError(ctx, ws, "invalid sequence edit data")
		return
	}
	if err := ev.Changes.Validate(); err != nil {
		h.sendError(ctx, ws, "invalid sequence format: "+err.Error())
		return
	}

	if err := h.seqCache.Put(ctx, ev.SessionID, ev.Changes); err != nil {
		slog.Warn("Sequence cache write failed", "session_id", ev.SessionID, "error", err)
	}
	if err := h.repo.SaveSequence(ctx, ev.SessionID, "", ev.Changes); err != nil {
		slog.Error("Failed to persist sequence edit", "session_id", ev.SessionID, "error", err)
	}

	if err := Send(ctx, ws, wire.EditReceived{Status: "received", SequenceID: ev.SequenceID}); err != nil {
		slog.Debug("Failed to ack sequence edit", "error", err)
	}
	h.rooms.Broadcast(ctx, ev.SessionID, wire.SequenceUpdate{Document: ev.Changes})
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, msg string) {
	if err := Send(ctx, ws, wire.Error{Message: msg}); err != nil {
		slog.Debug("Failed to send error event", "error", err)
	}
}
