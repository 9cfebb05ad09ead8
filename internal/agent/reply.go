package agent

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashureev/salesbot/internal/events"
)

// Status stages.
const (
	StageResearch = "research"
	StagePlanning = "planning"
)

const apology = "Sorry, I ran into a problem generating this response. Please try again."

func status(ctx context.Context, sink events.Sink, stage, message string) {
	sink.Deliver(ctx, events.StatusUpdate{Stage: stage, Message: message})
}

// reply sends content as one chunk and appends it as the terminal message.
func reply(ctx context.Context, state TurnState, sink events.Sink, content string) TurnState {
	id := uuid.NewString()
	sink.Deliver(ctx, events.AssistantChunk{MessageID: id, Chunk: content})
	return state.assistant(id, content)
}

// refuse reports a missing precondition without touching state.
func refuse(ctx context.Context, state TurnState, sink events.Sink, content string) TurnState {
	sink.Deliver(ctx, events.AssistantChunk{MessageID: uuid.NewString(), Chunk: content})
	return state
}

// streamReply forwards every fragment under one message id. On a generation
// error an apology chunk is appended so the chunks still concatenate to the
// stored content.
func streamReply(ctx context.Context, state TurnState, sink events.Sink, seq iter.Seq2[string, error], logger *slog.Logger) TurnState {
	id := uuid.NewString()
	var b strings.Builder

	for chunk, err := range seq {
		if err != nil {
			logger.Error("Generation stream failed",
				"session_id", state.SessionID,
				"message_id", id,
				"error", err,
			)
			tail := apology
			if b.Len() > 0 {
				tail = "\n\n" + apology
			}
			sink.Deliver(ctx, events.AssistantChunk{MessageID: id, Chunk: tail})
			b.WriteString(tail)
			break
		}
		if chunk == "" {
			continue
		}
		sink.Deliver(ctx, events.AssistantChunk{MessageID: id, Chunk: chunk})
		b.WriteString(chunk)
	}

	if b.Len() == 0 {
		sink.Deliver(ctx, events.AssistantChunk{MessageID: id, Chunk: apology})
		b.WriteString(apology)
	}
	return state.assistant(id, b.String())
}

// lookupKnowledge returns joined passages; failures yield empty context.
func lookupKnowledge(ctx context.Context, deps Deps, query, company string) string {
	docs, err := deps.Knowledge.Query(ctx, query, company)
	if err != nil {
		deps.Logger.Warn("Knowledge lookup failed", "company", company, "error", err)
		return ""
	}
	return strings.Join(docs, "\n\n")
}
