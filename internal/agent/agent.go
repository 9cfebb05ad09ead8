// Package agent implements the four capability agents a turn can be routed to.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/knowledge"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/research"
)

// TurnState is the working state of one turn.
// It is owned by a single turn and discarded when the turn ends.
type TurnState struct {
	SessionID string
	UserID    string
	Messages  []domain.Message
	Intent    domain.Intent
	Entities  domain.Entities
	Research  research.Dossier
	Document  *domain.Document
}

// Latest returns the newest message, normally the user's utterance.
func (s TurnState) Latest() domain.Message {
	if len(s.Messages) == 0 {
		return domain.Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// Final returns the terminal assistant message, if the turn produced one.
func (s TurnState) Final() (domain.Message, bool) {
	last := s.Latest()
	return last, last.IsAssistant()
}

// appendMessage returns s with msg added, leaving the caller's slice untouched.
func (s TurnState) appendMessage(msg domain.Message) TurnState {
	msgs := make([]domain.Message, 0, len(s.Messages)+1)
	msgs = append(msgs, s.Messages...)
	s.Messages = append(msgs, msg)
	return s
}

func (s TurnState) assistant(id, content string) TurnState {
	return s.appendMessage(domain.Message{
		ID:             id,
		ConversationID: s.SessionID,
		Role:           domain.RoleAssistant,
		Content:        content,
		CreatedAt:      time.Now(),
	})
}

// Agent handles one kind of turn.
//
// Execute appends exactly one assistant message to the returned state, or
// none when a required entity is missing. In that case it emits one
// assistant chunk explaining what is missing and returns state unchanged.
type Agent interface {
	Name() string
	Execute(ctx context.Context, state TurnState, sink events.Sink) TurnState
}

// Documents is the persistence an agent needs for account plans.
type Documents interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetLatestDocument(ctx context.Context, company, userID string) (*domain.Document, error)
	UpdateDocumentSection(ctx context.Context, documentID, section string, content any) error
	SaveResearch(ctx context.Context, record *domain.ResearchRecord) error
}

// Researcher gathers web research for a company.
type Researcher interface {
	Gather(ctx context.Context, req research.Request, sink events.Sink) research.Dossier
}

// Deps are the shared clients injected into every agent.
type Deps struct {
	Generator llm.Generator
	Knowledge knowledge.Retriever
	Research  Researcher
	Documents Documents
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Knowledge == nil {
		d.Knowledge = knowledge.Nop{}
	}
	return d
}

// Table routes intents to agents.
type Table map[domain.Intent]Agent

// NewTable builds the static dispatch table.
func NewTable(deps Deps) Table {
	deps = deps.withDefaults()
	return Table{
		domain.IntentResearchCompany: NewResearch(deps),
		domain.IntentGeneratePlan:    NewDocumentGeneration(deps),
		domain.IntentEditSection:     NewSectionEdit(deps),
		domain.IntentChat:            NewChat(deps),
	}
}

// Lookup returns the agent for intent, falling back to chat.
func (t Table) Lookup(intent domain.Intent) Agent {
	if a, ok := t[intent]; ok {
		return a
	}
	return t[domain.IntentChat]
}
