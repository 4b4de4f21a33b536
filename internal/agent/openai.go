package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/cadencehq/cadence/internal/store"
	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are Cadence, an assistant that helps recruiters build outreach sequences.
When the user asks for an outreach plan, call the generate_sequence tool with the role, company,
and industry you can infer from the conversation. Keep chat replies short; the sequence itself
is shown in a separate workspace panel, so never paste full message templates into chat.`

var generateSequenceTool = openai.Tool{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        ToolGenerateSequence,
		Description: "Generate a multi-step outreach sequence for recruiting candidates.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"target_role": {"type": "string", "description": "Role being recruited, e.g. Software Engineer"},
				"company_name": {"type": "string"},
				"industry": {"type": "string"},
				"tone": {"type": "string", "description": "Desired tone, e.g. friendly, formal"},
				"value_proposition": {"type": "string"},
				"num_steps": {"type": "integer", "minimum": 1, "maximum": 5}
			},
			"required": ["target_role", "company_name"]
		}`),
	},
}

// OpenAI is an Engine backed by the OpenAI chat-completion API with
// function-calling tools.
type OpenAI struct {
	client  *openai.Client
	model   string
	repo    store.Repository
	effects Effects
}

// NewOpenAI creates an OpenAI-backed engine.
func NewOpenAI(apiKey, model string, repo store.Repository, effects Effects) *OpenAI {
	if effects == nil {
		effects = NopEffects{}
	}
	return &OpenAI{
		client:  openai.NewClient(apiKey),
		model:   model,
		repo:    repo,
		effects: effects,
	}
}

// ProcessMessage persists the user message, runs the model (executing
// any requested tools), persists the final reply, and returns it.
func (o *OpenAI) ProcessMessage(ctx context.Context, req Request) (string, error) {
	if err := o.repo.AppendMessage(ctx, &domain.StoredMessage{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      domain.RoleUser,
		Content:   req.Message,
	}); err != nil {
		slog.Warn("failed to persist user message", "session_id", req.SessionID, "error", err)
	}

	messages, err := o.conversation(ctx, req.SessionID)
	if err != nil {
		return "", err
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
		Tools:    []openai.Tool{generateSequenceTool},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	choice := resp.Choices[0].Message

	if len(choice.ToolCalls) > 0 {
		messages = append(messages, choice)
		for _, call := range choice.ToolCalls {
			result := o.runTool(req.SessionID, call)
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}

		resp, err = o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    o.model,
			Messages: messages,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion after tools: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat completion after tools returned no choices")
		}
		choice = resp.Choices[0].Message
	}

	reply := choice.Content
	if err := o.repo.AppendMessage(ctx, &domain.StoredMessage{
		SessionID: req.SessionID,
		Role:      domain.RoleAssistant,
		Content:   reply,
	}); err != nil {
		slog.Warn("failed to persist assistant message", "session_id", req.SessionID, "error", err)
	}
	return reply, nil
}

// runTool executes one tool call and returns the result payload handed
// back to the model. Tool failures are reported through Effects and to
// the model, never as a process error.
func (o *OpenAI) runTool(sessionID string, call openai.ToolCall) string {
	name := call.Function.Name
	o.effects.ToolStarted(sessionID, name)

	if name != ToolGenerateSequence {
		o.effects.ToolFailed(sessionID, name, "unknown tool")
		return fmt.Sprintf(`{"error": "unknown tool %s"}`, name)
	}

	var args SequenceArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		slog.Error("invalid tool arguments", "tool", name, "error", err)
		o.effects.ToolFailed(sessionID, name, "invalid tool arguments")
		return `{"error": "invalid arguments"}`
	}

	doc := BuildSequence(args)
	o.effects.SequenceGenerated(sessionID, doc)
	o.effects.ToolFinished(sessionID, name)
	return fmt.Sprintf(`{"status": "generated", "sequence_id": %q, "steps": %d}`, doc.ID, len(doc.Steps))
}

// conversation rebuilds the model context from the stored transcript.
// Tool-role entries are skipped; their results are already reflected in
// the assistant replies that followed them.
func (o *OpenAI) conversation(ctx context.Context, sessionID string) ([]openai.ChatCompletionMessage, error) {
	history, err := o.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	}}
	for _, m := range history {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if m.Content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return messages, nil
}

// Close implements Engine.
func (o *OpenAI) Close() {}

var _ Engine = (*OpenAI)(nil)
