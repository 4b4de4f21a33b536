package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/internal/agent"
	"github.com/cadencehq/cadence/internal/cache"
	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/wire"
)

// Effects fire from engine goroutines that have no request context.
const effectTimeout = 10 * time.Second

// Effects forwards assistant side effects to the session room: tool
// lifecycle events for the activity indicator, and generated sequences
// into the cache, the store, and a sequence_update broadcast.
type Effects struct {
	rooms    *Rooms
	repo     store.Repository
	seqCache cache.SequenceCache
}

// NewEffects creates the hub-backed effects sink.
func NewEffects(rooms *Rooms, repo store.Repository, seqCache cache.SequenceCache) *Effects {
	return &Effects{rooms: rooms, repo: repo, seqCache: seqCache}
}

// ToolStarted broadcasts tool_call_start to the session room.
func (e *Effects) ToolStarted(sessionID, tool string) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()
	e.rooms.Broadcast(ctx, sessionID, wire.ToolCallStart{Tool: tool})
}

// ToolFinished broadcasts tool_call_end to the session room.
func (e *Effects) ToolFinished(sessionID, tool string) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()
	e.rooms.Broadcast(ctx, sessionID, wire.ToolCallEnd{Tool: tool})
}

// ToolFailed broadcasts tool_call_error to the session room.
func (e *Effects) ToolFailed(sessionID, tool, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()
	e.rooms.Broadcast(ctx, sessionID, wire.ToolCallError{Tool: tool, Error: errMsg})
}

// SequenceGenerated persists the generated document and pushes it to
// every client in the room.
func (e *Effects) SequenceGenerated(sessionID string, doc *domain.SequenceDocument) {
	ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
	defer cancel()

	doc.Normalize()
	if err := e.seqCache.Put(ctx, sessionID, doc); err != nil {
		slog.Warn("Sequence cache write failed", "session_id", sessionID, "error", err)
	}
	if err := e.repo.SaveSequence(ctx, sessionID, "", doc); err != nil {
		slog.Error("Failed to persist generated sequence", "session_id", sessionID, "error", err)
	}
	e.rooms.Broadcast(ctx, sessionID, wire.SequenceUpdate{Document: doc})
}

var _ agent.Effects = (*Effects)(nil)
