// Package agent implements the assistant engine that turns chat
// messages into replies and sequence documents.
package agent

import (
	"context"

	"github.com/cadencehq/cadence/internal/domain"
)

// Request carries one user message through the engine.
type Request struct {
	SessionID string
	UserID    string
	Message   string
}

// Effects receives side effects emitted while a message is processed.
// The hub implements this to forward tool lifecycle and generated
// sequences to connected clients.
type Effects interface {
	ToolStarted(sessionID, tool string)
	ToolFinished(sessionID, tool string)
	ToolFailed(sessionID, tool, errMsg string)
	SequenceGenerated(sessionID string, doc *domain.SequenceDocument)
}

// Engine produces assistant replies. Implementations persist the user
// message and the final reply to the transcript store.
type Engine interface {
	ProcessMessage(ctx context.Context, req Request) (string, error)
	Close()
}

// NopEffects discards all effects. Used by callers that only need the
// reply text.
type NopEffects struct{}

func (NopEffects) ToolStarted(string, string) {}

func (NopEffects) ToolFinished(string, string) {}

func (NopEffects) ToolFailed(string, string, string) {}

func (NopEffects) SequenceGenerated(string, *domain.SequenceDocument) {}

var _ Effects = NopEffects{}
