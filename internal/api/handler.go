// Package api provides HTTP handlers for the Cadence REST surface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/agent"
	"github.com/cadencehq/cadence/internal/cache"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/hub"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/wire"
	"github.com/go-chi/chi/v5"
)

// Handler provides the REST endpoints consumed by clients, including
// the fallback chat-send path used when the realtime channel is down.
type Handler struct {
	repo     store.Repository
	seqCache cache.SequenceCache
	rooms    *hub.Rooms
	engine   agent.Engine
	app      config.AppDisplayConfig
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, seqCache cache.SequenceCache, rooms *hub.Rooms, engine agent.Engine, app config.AppDisplayConfig) *Handler {
	return &Handler{
		repo:     repo,
		seqCache: seqCache,
		rooms:    rooms,
		engine:   engine,
		app:      app,
	}
}

// Routes mounts all REST endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/sessions", h.listSessions)
	r.Post("/api/sessions", h.createSession)
	r.Put("/api/sessions/{sessionID}", h.renameSession)
	r.Delete("/api/sessions/{sessionID}", h.deleteSession)

	r.Get("/api/chat/{sessionID}", h.chatHistory)
	r.Post("/api/chat", h.sendChat)

	r.Get("/api/sequences", h.getSequence)
	r.Post("/api/sequences", h.saveSequence)
	r.Post("/api/sequences/reset", h.resetSequence)

	r.Get("/api/user", h.getUser)
	r.Post("/api/user", h.upsertUser)

	r.Get("/api/config", h.appConfig)
	r.Get("/healthz", h.health)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	now := time.Now()
	sess := &domain.Session{ID: req.SessionID, Name: req.Name, CreatedAt: now, UpdatedAt: now}
	if sess.Name == "" {
		sess.Name = domain.DefaultSessionName(now)
	}

	if err := h.repo.CreateSession(r.Context(), req.UserID, sess); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			Error(w, http.StatusConflict, "session ID already exists")
			return
		}
		slog.Error("Failed to create session", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	slog.Info("Created session", "session_id", sess.ID)
	JSON(w, http.StatusCreated, sess)
}

func (h *Handler) renameSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.repo.RenameSession(r.Context(), sessionID, req.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to rename session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": sessionID, "name": req.Name})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.repo.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to delete session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if err := h.seqCache.Clear(r.Context(), sessionID); err != nil {
		slog.Warn("Failed to clear sequence cache", "session_id", sessionID, "error", err)
	}

	slog.Info("Deleted session", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

func (h *Handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load chat history", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []*domain.StoredMessage{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

type sendChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
}

// sendChat is the fallback delivery path: it runs the engine
// synchronously and returns the reply in the response body.
func (h *Handler) sendChat(w http.ResponseWriter, r *http.Request) {
	var req sendChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "session_id and message are required")
		return
	}
	if h.engine == nil {
		Error(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}

	reply, err := h.engine.ProcessMessage(r.Context(), agent.Request{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Message:   req.Message,
	})
	if err != nil {
		slog.Error("Engine failed to process message", "session_id", req.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"session_id": req.SessionID,
		"response":   reply,
	})
}

func (h *Handler) getSequence(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	doc, err := h.repo.LatestSequence(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load sequence", "session_id", sessionID, "error", err)
		JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "failed to load sequence"})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"success": true, "data": doc})
}

type saveSequenceRequest struct {
	SessionID string                   `json:"session_id"`
	UserID    string                   `json:"user_id"`
	Sequence  *domain.SequenceDocument `json:"sequence"`
}

func (h *Handler) saveSequence(w http.ResponseWriter, r *http.Request) {
	var req saveSequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
		return
	}
	if req.SessionID == "" || req.Sequence == nil {
		JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "session_id and sequence are required"})
		return
	}
	if err := req.Sequence.Validate(); err != nil {
		JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	req.Sequence.Normalize()
	if err := h.repo.SaveSequence(r.Context(), req.SessionID, req.UserID, req.Sequence); err != nil {
		slog.Error("Failed to save sequence", "session_id", req.SessionID, "error", err)
		JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "failed to save sequence"})
		return
	}
	if err := h.seqCache.Put(r.Context(), req.SessionID, req.Sequence); err != nil {
		slog.Warn("Failed to cache sequence", "session_id", req.SessionID, "error", err)
	}
	h.rooms.Broadcast(r.Context(), req.SessionID, wire.SequenceUpdate{Document: req.Sequence})

	JSON(w, http.StatusOK, map[string]any{"success": true, "id": req.Sequence.ID})
}

// resetSequence clears the stored document and notifies the room so
// every client converges on the no-sequence state.
func (h *Handler) resetSequence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "session_id is required"})
		return
	}

	if err := h.repo.DeleteSequence(r.Context(), req.SessionID); err != nil {
		slog.Error("Failed to delete sequence", "session_id", req.SessionID, "error", err)
		JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "failed to reset sequence"})
		return
	}
	if err := h.seqCache.Clear(r.Context(), req.SessionID); err != nil {
		slog.Warn("Failed to clear sequence cache", "session_id", req.SessionID, "error", err)
	}
	h.rooms.Broadcast(r.Context(), req.SessionID, wire.SequenceUpdate{Document: nil})

	slog.Info("Reset sequence", "session_id", req.SessionID)
	JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "user not found")
			return
		}
		slog.Error("Failed to load user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	JSON(w, http.StatusOK, user)
}

func (h *Handler) upsertUser(w http.ResponseWriter, r *http.Request) {
	var user domain.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if user.Name == "" || user.Email == "" {
		Error(w, http.StatusBadRequest, "name and email are required")
		return
	}

	if err := h.repo.UpsertUser(r.Context(), &user); err != nil {
		slog.Error("Failed to upsert user", "email", user.Email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save user")
		return
	}
	JSON(w, http.StatusOK, &user)
}

func (h *Handler) appConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.AppConfig{
		Title:            h.app.Title,
		Subtitle:         h.app.Subtitle,
		InputPlaceholder: h.app.InputPlaceholder,
		WelcomeMessage:   h.app.WelcomeMessage,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
