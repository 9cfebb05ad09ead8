package agent

import (
	"context"

	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/prompts"
)

// Chat answers conversationally, using stored research when a company is known.
type Chat struct {
	deps Deps
}

// NewChat creates the chat agent.
func NewChat(deps Deps) *Chat {
	return &Chat{deps: deps.withDefaults()}
}

// Name implements Agent.
func (a *Chat) Name() string { return "chat" }

// Execute implements Agent.
func (a *Chat) Execute(ctx context.Context, state TurnState, sink events.Sink) TurnState {
	ctx, span := startSpan(ctx, a.Name(), state)
	defer span.End()

	latest := state.Latest().Content
	known := ""
	if company := state.Entities.Company; company != "" {
		known = lookupKnowledge(ctx, a.deps, latest, company)
	}

	opts := []llm.Option{llm.WithHistory(state.Messages[:max(len(state.Messages)-1, 0)])}
	instructions, err := prompts.Render(prompts.ChatInstructions, map[string]any{"Knowledge": known})
	if err != nil {
		a.deps.Logger.Error("Failed to render chat instructions", "error", err)
	} else {
		opts = append(opts, llm.WithInstructions(instructions))
	}

	return streamReply(ctx, state, sink, a.deps.Generator.Stream(ctx, latest, opts...), a.deps.Logger)
}
