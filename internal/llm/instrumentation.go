package llm

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ashureev/salesbot/internal/llm"

var tracer = otel.Tracer(scopeName)
