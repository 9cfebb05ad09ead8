package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/intent"
	"github.com/ashureev/salesbot/internal/knowledge"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/prompts"
	"github.com/ashureev/salesbot/internal/research"
)

const (
	clarificationMarker = "QUESTION:"
	evaluationLimit     = 5000
	queryHistory        = 2
)

var queriesSchema = llm.MustSchemaFor[research.Queries]("search_queries")

// Research answers with a streamed report built from web research.
type Research struct {
	deps Deps
}

// NewResearch creates the research agent.
func NewResearch(deps Deps) *Research {
	return &Research{deps: deps.withDefaults()}
}

// Name implements Agent.
func (a *Research) Name() string { return "research" }

// Execute implements Agent.
func (a *Research) Execute(ctx context.Context, state TurnState, sink events.Sink) TurnState {
	ctx, span := startSpan(ctx, a.Name(), state)
	defer span.End()

	company := state.Entities.Company
	if company == "" {
		return refuse(ctx, state, sink, "Which company should I research?")
	}
	region := state.Entities.Region
	if region == "" {
		region = research.DefaultScope
	}

	query := state.Latest().Content
	previous := intent.PreviousAssistant(state.Messages)
	followUp := strings.Contains(previous, "?")
	if followUp {
		if text, err := prompts.Render(prompts.FollowUpQuery, map[string]any{
			"Question": previous,
			"Answer":   query,
		}); err == nil {
			query = text
		}
	}

	queries := a.queries(ctx, state, company, region, query, sink)

	status(ctx, sink, StageResearch, fmt.Sprintf("Starting research on %s...", company))
	dossier := a.deps.Research.Gather(ctx, research.Request{
		Company: company,
		Scope:   region,
		UserID:  state.UserID,
		Queries: queries,
	}, sink)
	state.Research = dossier

	// Follow-ups answer an earlier question, so asking again would loop.
	if !followUp {
		if question := a.clarification(ctx, company, dossier); question != "" {
			return reply(ctx, state, sink, question)
		}
	}

	status(ctx, sink, StageResearch, "Synthesizing comprehensive report...")
	prompt, err := prompts.Render(prompts.ResearchSynthesis, map[string]any{
		"Company":  company,
		"Research": dossier.JSON(),
	})
	if err != nil {
		a.deps.Logger.Error("Failed to render synthesis prompt", "error", err)
		return reply(ctx, state, sink, apology)
	}
	return streamReply(ctx, state, sink, a.deps.Generator.Stream(ctx, prompt), a.deps.Logger)
}

// queries asks for a lookup and an analysis query, falling back to the raw text.
func (a *Research) queries(ctx context.Context, state TurnState, company, region, text string, sink events.Sink) research.Queries {
	fallback := research.Queries{Lookup: text, Analysis: text}

	prompt, err := prompts.Render(prompts.QueryGeneration, map[string]any{
		"Company": company,
		"Region":  region,
		"Message": text,
		"History": formatHistory(state.Messages, queryHistory),
	})
	if err != nil {
		a.deps.Logger.Error("Failed to render query prompt", "error", err)
		return fallback
	}

	q, err := llm.CompleteStructured[research.Queries](ctx, a.deps.Generator, prompt, queriesSchema)
	if err != nil {
		a.deps.Logger.Warn("Query generation failed", "company", company, "error", err)
		return fallback
	}
	if q.Lookup == "" {
		q.Lookup = text
	}
	if q.Analysis == "" {
		q.Analysis = text
	}
	status(ctx, sink, StageResearch, fmt.Sprintf("Generated queries:\n1. %s\n2. %s", q.Lookup, q.Analysis))
	return q
}

// clarification returns the question to ask the user, or "" when the
// research is sufficient. Evaluation failures count as sufficient.
func (a *Research) clarification(ctx context.Context, company string, dossier research.Dossier) string {
	data := knowledge.Truncate(dossier.JSON(), evaluationLimit)
	prompt, err := prompts.Render(prompts.ResearchEvaluation, map[string]any{
		"Company":  company,
		"Research": data,
	})
	if err != nil {
		a.deps.Logger.Error("Failed to render evaluation prompt", "error", err)
		return ""
	}

	verdict, err := a.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		a.deps.Logger.Warn("Research evaluation failed", "company", company, "error", err)
		return ""
	}
	idx := strings.LastIndex(verdict, clarificationMarker)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(verdict[idx+len(clarificationMarker):])
}

// formatHistory renders up to n messages before the latest as "role: content" lines.
func formatHistory(messages []domain.Message, n int) string {
	if len(messages) < 2 {
		return ""
	}
	prior := domain.Tail(messages[:len(messages)-1], n)
	lines := make([]string, len(prior))
	for i, m := range prior {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
	}
	return strings.Join(lines, "\n")
}
