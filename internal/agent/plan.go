package agent

import (
	"context"
	"fmt"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/prompts"
	"github.com/ashureev/salesbot/internal/research"
)

var planSchema = llm.MustSchemaFor[domain.AccountPlan]("account_plan")

// DocumentGeneration researches a company and writes a new account plan.
type DocumentGeneration struct {
	deps Deps
}

// NewDocumentGeneration creates the plan agent.
func NewDocumentGeneration(deps Deps) *DocumentGeneration {
	return &DocumentGeneration{deps: deps.withDefaults()}
}

// Name implements Agent.
func (a *DocumentGeneration) Name() string { return "plan" }

// Execute implements Agent.
func (a *DocumentGeneration) Execute(ctx context.Context, state TurnState, sink events.Sink) TurnState {
	ctx, span := startSpan(ctx, a.Name(), state)
	defer span.End()

	company := state.Entities.Company
	if company == "" {
		return refuse(ctx, state, sink, "I need to know the company name to generate a plan.")
	}

	status(ctx, sink, StageResearch, fmt.Sprintf("Gathering information on %s...", company))
	dossier := a.deps.Research.Gather(ctx, research.Request{
		Company: company,
		Scope:   state.Entities.Region,
		UserID:  state.UserID,
	}, sink)
	state.Research = dossier

	status(ctx, sink, StagePlanning, fmt.Sprintf("Generating plan for %s...", company))
	known := lookupKnowledge(ctx, a.deps, fmt.Sprintf("Overview and strategy for %s", company), company)

	prompt, err := prompts.Render(prompts.PlanGeneration, map[string]any{
		"Company":   company,
		"Research":  dossier.JSON(),
		"Knowledge": known,
	})
	if err != nil {
		a.deps.Logger.Error("Failed to render plan prompt", "error", err)
		return reply(ctx, state, sink, "Failed to generate plan.")
	}

	plan, err := llm.CompleteStructured[domain.AccountPlan](ctx, a.deps.Generator, prompt, planSchema)
	if err != nil {
		a.deps.Logger.Error("Plan generation failed", "company", company, "error", err)
		return reply(ctx, state, sink, "Failed to generate plan.")
	}

	doc := &domain.Document{
		UserID:   state.UserID,
		Company:  company,
		Sections: plan.Sections(),
	}
	if err := a.deps.Documents.CreateDocument(ctx, doc); err != nil {
		a.deps.Logger.Error("Failed to save plan, skipping research save",
			"company", company,
			"error", err,
		)
		return reply(ctx, state, sink, "Failed to save the generated plan.")
	}
	state.Document = doc

	if err := a.deps.Documents.SaveResearch(ctx, &domain.ResearchRecord{
		UserID:     state.UserID,
		Company:    company,
		Content:    dossier.JSON(),
		DocumentID: doc.ID,
	}); err != nil {
		a.deps.Logger.Error("Failed to save research", "plan_id", doc.ID, "error", err)
	}

	for _, spec := range domain.DocumentSections {
		sink.Deliver(ctx, events.DocumentSectionUpdate{
			DocumentID: doc.ID,
			Section:    spec.Name,
			Content:    doc.Sections[spec.Name],
		})
	}
	return reply(ctx, state, sink, doc.Markdown())
}
