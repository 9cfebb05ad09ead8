package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/prompts"
)

var listUpdateSchema = llm.MustSchemaFor[domain.ListSectionUpdate]("list_section_update")

// SectionEdit regenerates one section of the latest plan for a company.
type SectionEdit struct {
	deps Deps
}

// NewSectionEdit creates the edit agent.
func NewSectionEdit(deps Deps) *SectionEdit {
	return &SectionEdit{deps: deps.withDefaults()}
}

// Name implements Agent.
func (a *SectionEdit) Name() string { return "edit" }

// Execute implements Agent.
func (a *SectionEdit) Execute(ctx context.Context, state TurnState, sink events.Sink) TurnState {
	ctx, span := startSpan(ctx, a.Name(), state)
	defer span.End()

	company := state.Entities.Company
	if company == "" || state.Entities.Section == "" {
		return refuse(ctx, state, sink, "I need both the company name and the section to edit.")
	}
	spec, ok := domain.LookupSection(state.Entities.Section)
	if !ok {
		return refuse(ctx, state, sink, fmt.Sprintf("I can't find a section called %q. Available sections: %s.",
			state.Entities.Section, strings.Join(domain.SectionNames(), ", ")))
	}

	status(ctx, sink, StagePlanning, fmt.Sprintf("Updating %s for %s...", spec.Name, company))

	doc, err := a.deps.Documents.GetLatestDocument(ctx, company, state.UserID)
	if err != nil {
		a.deps.Logger.Error("Failed to load plan", "company", company, "error", err)
	}
	if doc == nil {
		return refuse(ctx, state, sink, fmt.Sprintf("No existing plan found for %s.", company))
	}

	instruction := state.Latest().Content
	known := lookupKnowledge(ctx, a.deps, instruction, company)

	var content any
	if spec.Kind == domain.SectionList {
		items, err := a.editList(ctx, spec, doc, company, instruction, known)
		if err != nil {
			a.deps.Logger.Error("Failed to generate list update", "section", spec.Name, "error", err)
			return reply(ctx, state, sink, "Failed to update list section.")
		}
		content = items
	} else {
		text, err := a.editText(ctx, spec, doc, company, instruction, known)
		if err != nil {
			a.deps.Logger.Error("Failed to generate section update", "section", spec.Name, "error", err)
			return reply(ctx, state, sink, "Failed to update section.")
		}
		content = text
	}

	if err := a.deps.Documents.UpdateDocumentSection(ctx, doc.ID, spec.Name, content); err != nil {
		a.deps.Logger.Error("Failed to save section update",
			"plan_id", doc.ID,
			"section", spec.Name,
			"error", err,
		)
		return reply(ctx, state, sink, "Failed to save updates.")
	}

	if doc.Sections == nil {
		doc.Sections = make(map[string]any)
	}
	doc.Sections[spec.Name] = content
	state.Document = doc

	sink.Deliver(ctx, events.DocumentSectionUpdate{DocumentID: doc.ID, Section: spec.Name, Content: content})
	return reply(ctx, state, sink, fmt.Sprintf("Updated %s section.", spec.Name))
}

func (a *SectionEdit) editList(ctx context.Context, spec domain.SectionSpec, doc *domain.Document, company, instruction, known string) ([]string, error) {
	current, err := json.Marshal(domain.ListItems(doc.Sections[spec.Name]))
	if err != nil {
		return nil, fmt.Errorf("encode current items: %w", err)
	}
	prompt, err := prompts.Render(prompts.EditListSection, map[string]any{
		"Section":     spec.Name,
		"Company":     company,
		"Current":     string(current),
		"Knowledge":   known,
		"Instruction": instruction,
	})
	if err != nil {
		return nil, err
	}
	update, err := llm.CompleteStructured[domain.ListSectionUpdate](ctx, a.deps.Generator, prompt, listUpdateSchema)
	if err != nil {
		return nil, err
	}
	if update.Items == nil {
		return []string{}, nil
	}
	return update.Items, nil
}

func (a *SectionEdit) editText(ctx context.Context, spec domain.SectionSpec, doc *domain.Document, company, instruction, known string) (string, error) {
	prompt, err := prompts.Render(prompts.EditTextSection, map[string]any{
		"Section":     spec.Name,
		"Company":     company,
		"Current":     doc.SectionText(spec.Name),
		"Knowledge":   known,
		"Instruction": instruction,
	})
	if err != nil {
		return "", err
	}
	text, err := a.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
