package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/store"
)

// Template is an Engine that works without a language model: it
// detects sequence intent with keyword heuristics and fills the
// built-in outreach templates. Used when no API key is configured and
// throughout the test suite.
type Template struct {
	repo    store.Repository
	effects Effects
}

// NewTemplate creates a template-based engine.
func NewTemplate(repo store.Repository, effects Effects) *Template {
	if effects == nil {
		effects = NopEffects{}
	}
	return &Template{repo: repo, effects: effects}
}

// ProcessMessage persists the user message, produces a reply, and
// persists it. Sequence-shaped requests run the generate_sequence tool.
func (t *Template) ProcessMessage(ctx context.Context, req Request) (string, error) {
	if err := t.repo.AppendMessage(ctx, &domain.StoredMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      domain.RoleUser,
		Content:   req.Message,
	}); err != nil {
		slog.Warn("failed to persist user message", "session_id", req.SessionID, "error", err)
	}

	var reply string
	if wantsSequence(req.Message) {
		t.effects.ToolStarted(req.SessionID, ToolGenerateSequence)
		doc := BuildSequence(extractArgs(req.Message))
		t.effects.SequenceGenerated(req.SessionID, doc)
		t.effects.ToolFinished(req.SessionID, ToolGenerateSequence)
		reply = fmt.Sprintf(
			"I've drafted a %d-step outreach sequence for %s. Take a look in the workspace panel and tell me what you'd like to change.",
			len(doc.Steps), doc.TargetRole)
	} else {
		reply = "I can help you build an outreach sequence. Tell me the role you're hiring for and the company, for example: \"create a sequence for Software Engineers at Acme\"."
	}

	if err := t.repo.AppendMessage(ctx, &domain.StoredMessage{
		SessionID: req.SessionID,
		Role:      domain.RoleAssistant,
		Content:   reply,
	}); err != nil {
		slog.Warn("failed to persist assistant message", "session_id", req.SessionID, "error", err)
	}
	return reply, nil
}

// Close implements Engine.
func (t *Template) Close() {}

var _ Engine = (*Template)(nil)

var sequenceKeywords = []string{"sequence", "outreach", "campaign", "hire", "hiring", "recruit"}

func wantsSequence(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range sequenceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// extractArgs pulls a role and company out of free text. Best effort:
// "for <role> at <company>" is the shape the chat UI nudges users
// toward; anything unparsed falls back to tool defaults.
func extractArgs(message string) SequenceArgs {
	var args SequenceArgs
	lower := strings.ToLower(message)

	if i := strings.Index(lower, " for "); i >= 0 {
		rest := message[i+5:]
		if j := strings.Index(strings.ToLower(rest), " at "); j >= 0 {
			args.TargetRole = strings.TrimSpace(rest[:j])
			company := strings.TrimSpace(rest[j+4:])
			args.CompanyName = strings.TrimRight(company, ".!? ")
		} else {
			args.TargetRole = strings.TrimRight(strings.TrimSpace(rest), ".!? ")
		}
	}
	return args
}
