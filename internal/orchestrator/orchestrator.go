// Package orchestrator runs one user turn from classification to persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/salesbot/internal/agent"
	"github.com/ashureev/salesbot/internal/domain"
	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/intent"
	"github.com/ashureev/salesbot/internal/llm"
	"github.com/ashureev/salesbot/internal/prompts"
)

const titleLimit = 60

// ErrForeignConversation is returned when a turn targets a conversation
// owned by another user.
var ErrForeignConversation = errors.New("conversation belongs to another user")

// Turn is one inbound user utterance.
type Turn struct {
	SessionID       string
	UserID          string
	Text            string
	SelectedText    string
	SourceMessageID string
	// Persist stores the utterance and the reply. Voice turns leave it off.
	Persist bool
	// Channel names the transport for the conversation log.
	Channel string
}

// Store is the persistence the orchestrator needs.
type Store interface {
	EnsureConversation(ctx context.Context, conversationID, userID, title string) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	SaveMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	UpdateMessageContent(ctx context.Context, messageID, content string) error
}

// Classifier routes a turn.
type Classifier interface {
	Classify(ctx context.Context, messages []domain.Message, sink events.Sink) intent.Result
}

// Deps configures an Orchestrator.
type Deps struct {
	Classifier   Classifier
	Agents       agent.Table
	Store        Store
	Generator    llm.Generator
	Audit        events.ConversationLogger
	Logger       *slog.Logger
	HistoryLimit int
	TurnTimeout  time.Duration
}

// Orchestrator runs turns. It is safe for concurrent use; turns for the
// same session are serialized.
type Orchestrator struct {
	deps  Deps
	locks *sessionLocks
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = events.NopConversationLogger()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 10
	}
	return &Orchestrator{deps: deps, locks: newSessionLocks()}
}

// HandleTurn runs t to completion, emitting events to sink, and returns the
// final turn state. It never fails: every error degrades to a message.
func (o *Orchestrator) HandleTurn(ctx context.Context, t Turn, sink events.Sink) agent.TurnState {
	unlock := o.locks.lock(t.SessionID)
	defer unlock()

	if o.deps.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deps.TurnTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "orchestrator.HandleTurn", trace.WithAttributes(
		attribute.String("session.id", t.SessionID),
		attribute.String("turn.channel", t.Channel),
		attribute.Bool("turn.persist", t.Persist),
	))
	defer span.End()

	o.audit(t, "inbound", "user_message", t.Text, map[string]any{
		"selected_text":     t.SelectedText,
		"source_message_id": t.SourceMessageID,
	})

	state := agent.TurnState{SessionID: t.SessionID, UserID: t.UserID}

	withHistory := true
	if err := o.checkOwner(ctx, t.SessionID, t.UserID); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrForeignConversation) {
			span.SetStatus(codes.Error, "foreign conversation")
			o.deps.Logger.Warn("Rejected turn for foreign conversation",
				"session_id", t.SessionID,
				"user_id", t.UserID,
			)
			sink.Deliver(ctx, events.Error{Code: events.CodeForbidden, Message: "This conversation belongs to another user."})
			return state
		}
		// Ownership unknown: run the turn detached from stored state.
		o.deps.Logger.Error("Failed to check conversation owner", "session_id", t.SessionID, "error", err)
		withHistory = false
		t.Persist = false
	}

	if t.SourceMessageID != "" && t.SelectedText != "" {
		span.SetAttributes(attribute.String("turn.kind", "in_place_edit"))
		o.editInPlace(ctx, t, sink, span)
		return state
	}

	text := t.Text
	if t.SelectedText != "" {
		text = fmt.Sprintf("Context: %s\n\nInstruction: %s", t.SelectedText, t.Text)
	}

	var history []domain.Message
	if withHistory {
		history = o.history(ctx, t.SessionID)
	}
	utterance := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: t.SessionID,
		Role:           domain.RoleUser,
		Content:        t.Text,
		CreatedAt:      time.Now(),
	}
	if t.Persist {
		o.persistUtterance(ctx, t, utterance)
	}
	utterance.Content = text
	state.Messages = domain.WithUtterance(history, utterance)

	route := o.deps.Classifier.Classify(ctx, state.Messages, sink)
	state.Intent = route.Intent
	state.Entities = route.Entities

	handler := o.deps.Agents.Lookup(route.Intent)
	span.SetAttributes(
		attribute.String("turn.intent", string(route.Intent)),
		attribute.String("turn.agent", handler.Name()),
		attribute.Bool("turn.degraded", route.Degraded),
	)
	o.deps.Logger.Info("Dispatching turn",
		"session_id", t.SessionID,
		"intent", route.Intent,
		"agent", handler.Name(),
		"company", route.Entities.Company,
	)

	state = handler.Execute(ctx, state, sink)

	final, ok := state.Final()
	if !ok {
		return state
	}
	if t.Persist {
		msg := final
		if err := o.deps.Store.SaveMessage(ctx, &msg); err != nil {
			span.RecordError(err)
			o.deps.Logger.Error("Failed to save assistant message",
				"session_id", t.SessionID,
				"message_id", final.ID,
				"error", err,
			)
		}
	}
	o.audit(t, "outbound", "assistant_message", final.Content, map[string]any{
		"message_id": final.ID,
		"intent":     string(route.Intent),
	})
	return state
}

// checkOwner returns ErrForeignConversation when conversationID exists and
// belongs to someone other than userID. Unknown conversations are free.
func (o *Orchestrator) checkOwner(ctx context.Context, conversationID, userID string) error {
	if o.deps.Store == nil || conversationID == "" {
		return nil
	}
	conv, err := o.deps.Store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if conv != nil && conv.UserID != userID {
		return ErrForeignConversation
	}
	return nil
}

func (o *Orchestrator) history(ctx context.Context, sessionID string) []domain.Message {
	if o.deps.Store == nil || sessionID == "" {
		return nil
	}
	msgs, err := o.deps.Store.RecentMessages(ctx, sessionID, o.deps.HistoryLimit)
	if err != nil {
		o.deps.Logger.Error("Failed to fetch chat history", "session_id", sessionID, "error", err)
		return nil
	}
	return msgs
}

func (o *Orchestrator) persistUtterance(ctx context.Context, t Turn, msg domain.Message) {
	if err := o.deps.Store.EnsureConversation(ctx, t.SessionID, t.UserID, title(t.Text)); err != nil {
		o.deps.Logger.Error("Failed to ensure conversation", "session_id", t.SessionID, "error", err)
		return
	}
	if err := o.deps.Store.SaveMessage(ctx, &msg); err != nil {
		o.deps.Logger.Error("Failed to save user message", "session_id", t.SessionID, "error", err)
	}
}

// editInPlace rewrites a stored message and reports the new content.
func (o *Orchestrator) editInPlace(ctx context.Context, t Turn, sink events.Sink, span trace.Span) {
	fail := func(msg string, err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		o.deps.Logger.Error("In-place edit failed",
			"session_id", t.SessionID,
			"message_id", t.SourceMessageID,
			"error", err,
		)
		sink.Deliver(ctx, events.Error{Code: events.CodeEditFailed, Message: msg})
	}

	original, err := o.deps.Store.GetMessage(ctx, t.SourceMessageID)
	if err == nil && original == nil {
		err = fmt.Errorf("message %s not found", t.SourceMessageID)
	}
	if err == nil {
		// A message only exists for the caller inside a conversation they own.
		conv, convErr := o.deps.Store.GetConversation(ctx, original.ConversationID)
		switch {
		case convErr != nil:
			err = convErr
		case conv == nil || conv.UserID != t.UserID:
			err = fmt.Errorf("message %s: %w", t.SourceMessageID, ErrForeignConversation)
		}
	}
	if err != nil {
		fail("Original message not found.", err)
		return
	}

	prompt, err := prompts.Render(prompts.InPlaceEdit, map[string]any{
		"Original":    original.Content,
		"Selection":   t.SelectedText,
		"Instruction": t.Text,
	})
	if err != nil {
		fail("Failed to edit message.", err)
		return
	}
	rewritten, err := o.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		fail("Failed to edit message.", err)
		return
	}
	rewritten = strings.TrimSpace(rewritten)

	if err := o.deps.Store.UpdateMessageContent(ctx, original.ID, rewritten); err != nil {
		fail("Failed to save the edited message.", err)
		return
	}

	sink.Deliver(ctx, events.MessageReplaced{MessageID: original.ID, Content: rewritten})
	o.audit(t, "outbound", "message_replaced", rewritten, map[string]any{
		"message_id":       original.ID,
		"previous_content": original.Content,
	})
}

func (o *Orchestrator) audit(t Turn, direction, eventType, content string, meta map[string]any) {
	o.deps.Audit.Log(events.ConversationLogEvent{
		UserID:     t.UserID,
		SessionID:  t.SessionID,
		Channel:    t.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

func title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= titleLimit {
		return text
	}
	cut := titleLimit
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "..."
}
