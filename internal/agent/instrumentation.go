package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/ashureev/salesbot/internal/agent"

var tracer = otel.Tracer(scopeName)

func startSpan(ctx context.Context, name string, state TurnState) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent."+name, trace.WithAttributes(
		attribute.String("session.id", state.SessionID),
		attribute.String("agent.company", state.Entities.Company),
	))
}
