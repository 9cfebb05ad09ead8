package orchestrator

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ashureev/salesbot/internal/orchestrator"

var tracer = otel.Tracer(scopeName)
