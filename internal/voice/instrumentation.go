package voice

import "go.opentelemetry.io/otel"

const scopeName = "github.com/ashureev/salesbot/internal/voice"

var tracer = otel.Tracer(scopeName)
