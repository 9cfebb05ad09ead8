// Package intent classifies a user turn into the agent that should handle it.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/prompts"
)

// StageIntent is the status stage emitted once per classified turn.
const StageIntent = "intent"

// Analysis is the structured output requested from the model.
type Analysis struct {
	Intent   domain.Intent   `json:"intent" jsonschema:"enum=research_company,enum=generate_plan,enum=edit_section,enum=chat,enum=answer_clarification"`
	Entities domain.Entities `json:"entities"`
}

var analysisSchema = llm.MustSchemaFor[Analysis]("intent_analysis")

// Result is the routing decision for one turn.
type Result struct {
	Intent   domain.Intent
	Entities domain.Entities
	// Degraded is set when classification failed and the turn fell back to chat.
	Degraded bool
}

// Classifier maps the latest turn to an intent and entities.
type Classifier struct {
	gen    llm.Generator
	logger *slog.Logger
}

// New creates a Classifier.
func New(gen llm.Generator, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, logger: logger}
}

// Classify never fails: errors degrade to chat with empty entities.
// It emits exactly one status update describing the chosen mode.
func (c *Classifier) Classify(ctx context.Context, messages []domain.Message, sink events.Sink) Result {
	res := c.classify(ctx, messages)
	sink.Deliver(ctx, events.StatusUpdate{Stage: StageIntent, Message: ModeMessage(res)})
	return res
}

func (c *Classifier) classify(ctx context.Context, messages []domain.Message) Result {
	if len(messages) == 0 {
		return Result{Intent: domain.IntentChat, Degraded: true}
	}
	utterance := messages[len(messages)-1].Content
	previous := PreviousAssistant(messages)

	prompt, err := prompts.Render(prompts.IntentAnalysis, map[string]any{
		"Message":           utterance,
		"PreviousAssistant": previous,
	})
	if err != nil {
		c.logger.Error("Failed to render intent prompt", "error", err)
		return Result{Intent: domain.IntentChat, Degraded: true}
	}

	analysis, err := llm.CompleteStructured[Analysis](ctx, c.gen, prompt, analysisSchema)
	if err != nil {
		c.logger.Warn("Intent analysis failed, defaulting to chat", "error", err)
		return Result{Intent: domain.IntentChat, Degraded: true}
	}
	if !analysis.Intent.Valid() {
		c.logger.Warn("Unknown intent, defaulting to chat", "intent", analysis.Intent)
		return Result{Intent: domain.IntentChat, Degraded: true}
	}

	res := Result{Intent: analysis.Intent, Entities: analysis.Entities.Normalize()}
	if res.Intent == domain.IntentAnswerClarification {
		// Clarifying questions are only asked by the research flow.
		res.Intent = domain.IntentResearchCompany
	}
	if res.Entities.Company == "" && previous != "" {
		res.Entities.Company = CompanyFromText(previous)
	}
	return res
}

// ModeMessage describes the mode the turn was routed to.
func ModeMessage(r Result) string {
	switch r.Intent {
	case domain.IntentResearchCompany:
		return fmt.Sprintf("Researching %s...", r.Entities.Company)
	case domain.IntentGeneratePlan:
		return "Generating Plan..."
	case domain.IntentEditSection:
		return "Editing Plan..."
	default:
		return "Chatting..."
	}
}

// PreviousAssistant returns the message before the latest one when the
// assistant wrote it.
func PreviousAssistant(messages []domain.Message) string {
	if len(messages) < 2 {
		return ""
	}
	prev := messages[len(messages)-2]
	if !prev.IsAssistant() {
		return ""
	}
	return prev.Content
}

var companyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#\s*Account Plan for\s+(.+?)\s*$`),
	regexp.MustCompile(`(?m)^#\s*Research Report:\s*(.+?)\s*$`),
	regexp.MustCompile(`Researching\s+([^\n.]+?)\s*\.\.\.`),
	regexp.MustCompile(`No existing plan found for\s+([^\n]+?)\.\s*$`),
}

// CompanyFromText finds a company named by an earlier assistant message.
func CompanyFromText(text string) string {
	for _, re := range companyPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
